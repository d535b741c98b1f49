package model

import "time"

// SensorReading is one timestamped triple of particulate measurements
// (µg/m³) reported by the rooftop purifier. Rows are append-only: the
// ingestion endpoint creates them and nothing ever updates or deletes
// them.
type SensorReading struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	PM1       float64   `gorm:"column:pm1_0;not null" json:"pm1_0"`
	PM25      float64   `gorm:"column:pm2_5;not null" json:"pm2_5"`
	PM10      float64   `gorm:"column:pm10;not null" json:"pm10"`
	CreatedAt time.Time `gorm:"index;not null" json:"timestamp"`
}

// TableName keeps the table name used by the existing device firmware
// and dashboard.
func (SensorReading) TableName() string {
	return "sensor_data"
}
