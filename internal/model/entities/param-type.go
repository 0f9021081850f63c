package entities

// ParamType is a dictionary row mapping a parameter key to a display label.
type ParamType struct {
	ID     uint   `gorm:"column:id;primaryKey;autoIncrement" yaml:"-"`
	Key    string `gorm:"column:param_type_en;uniqueIndex" yaml:"key"`
	Label  string `gorm:"column:param_type_cn" yaml:"label"`
	Remark string `gorm:"column:remark" yaml:"remark"`
}

func (ParamType) TableName() string { return "param_type_dict" }

// DefaultUnits are the measurement units of the decoded parameters.
var DefaultUnits = map[string]string{
	"temperature":       "℃",
	"humidity":          "%",
	"noise":             "dB",
	"pm25":              "μg/m³",
	"pm10":              "μg/m³",
	"light_intensity":   "lux",
	"wind_speed":        "m/s",
	"direction_angle":   "°",
	"water_temperature": "℃",
	"ph_value":          "",
	"dissolved_oxygen":  "mg/L",
	"ammonia_nitrogen":  "mg/L",
	"conductivity":      "μS/cm",
	"rainfall":          "mm",
	"air_pressure":      "hPa",
}
