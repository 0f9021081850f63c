package entities

// DeviceMqttConfig binds a device to the topic its readings are published on.
type DeviceMqttConfig struct {
	ID       uint   `gorm:"column:id;primaryKey;autoIncrement" yaml:"-"`
	DeviceID string `gorm:"column:device_id;uniqueIndex" yaml:"device_id"`
	Topic    string `gorm:"column:mqtt_topic" yaml:"topic"`
	QoS      int    `gorm:"column:mqtt_qos" yaml:"qos"`
}

func (DeviceMqttConfig) TableName() string { return "agriculture_device_mqtt_config" }
