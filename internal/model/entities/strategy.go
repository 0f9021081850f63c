package entities

// Action is a logical actuator command.
type Action string

const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// ParseAction returns the action and whether it is one of on/off.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionOn, ActionOff:
		return Action(s), true
	}
	return Action(s), false
}

// TargetStatus is the control status the action drives the device to.
func (a Action) TargetStatus() ControlStatus {
	if a == ActionOn {
		return ControlOn
	}
	return ControlOff
}

// Strategy is a condition-based automatic control rule.
type Strategy struct {
	ID              uint    `gorm:"column:id;primaryKey;autoIncrement" json:"id" yaml:"-"`
	PastureID       string  `gorm:"column:pasture_id" json:"pasture_id" yaml:"pasture_id"`
	BatchID         string  `gorm:"column:batch_id" json:"batch_id" yaml:"batch_id"`
	DeviceID        string  `gorm:"column:device_id;index" json:"device_id" yaml:"device_id"`
	StrategyType    string  `gorm:"column:strategy_type" json:"strategy_type" yaml:"type"`
	Parameter       string  `gorm:"column:parameter" json:"parameter" yaml:"parameter"`
	Operator        string  `gorm:"column:condition_operator" json:"condition_operator" yaml:"operator"`
	Value           float64 `gorm:"column:condition_value" json:"condition_value" yaml:"value"`
	ExecuteDuration int     `gorm:"column:execute_duration" json:"execute_duration" yaml:"duration"` // seconds
	Action          Action  `gorm:"column:action" json:"action" yaml:"action"`
	Enabled         bool    `gorm:"column:status" json:"enabled" yaml:"enabled"`
	Description     string  `gorm:"column:description" json:"description" yaml:"description"`
}

func (Strategy) TableName() string { return "agriculture_auto_control_strategy" }
