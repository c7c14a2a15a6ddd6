package models

import (
	"time"

	"gorm.io/datatypes"
)

// TemperatureData is a temperature compensation log uploaded by a rig.
type TemperatureData struct {
	Base
	ProductSN      string     `gorm:"column:product_sn;size:32;not null;index" json:"product_sn"`
	StartTime      *time.Time `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	TestRuntime    *int       `json:"test_runtime"`
	SampleInterval *int       `json:"sample_interval"`

	OriginalTemperature      datatypes.JSON `json:"original_temperature"`
	OriginalTemperatureCount *int           `json:"original_temperature_count"`
	CompensatedTemperature   datatypes.JSON `json:"compensated_temperature"`

	TemperatureCompensationEnabled  bool     `gorm:"not null" json:"temperature_compensation_enabled"`
	TemperatureCompensationValue    *float64 `json:"temperature_compensation_value"`
	TemperatureCompensationDuration *int     `json:"temperature_compensation_duration"`

	LocalIP    *string `gorm:"column:local_ip;size:128" json:"local_ip"`
	PublicIP   *string `gorm:"column:public_ip;size:128" json:"public_ip"`
	Hostname   *string `gorm:"size:255" json:"hostname"`
	AppVersion *string `gorm:"size:32" json:"app_version"`
	Remark     *string `gorm:"size:255" json:"remark"`
	SoftDelete
}

func (TemperatureData) TableName() string { return "temperature_datas" }

// WifiTestLog keeps the raw console output of a WiFi board run.
type WifiTestLog struct {
	Base
	WifiBoardSN string  `gorm:"column:wifi_board_sn;size:32;not null;index" json:"wifi_board_sn"`
	RawData     string  `gorm:"type:text;not null" json:"raw_data"`
	MacAddress  *string `gorm:"size:64;index" json:"mac_address"`
	LocalIP     *string `gorm:"column:local_ip;size:64" json:"local_ip"`
	PublicIP    *string `gorm:"column:public_ip;size:64" json:"public_ip"`
	HostName    *string `gorm:"size:255" json:"host_name"`
	AppVersion  *string `gorm:"size:32" json:"app_version"`
	SoftDelete
}
