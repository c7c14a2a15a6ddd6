package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ResultPending = "PENDING"
	ResultPass    = "pass"
	ResultFail    = "fail"
)

// WifiBoardTest is one run of the WiFi board rig: knob, light and network
// phases plus an overall verdict.
type WifiBoardTest struct {
	Base
	WifiBoardSN       string  `gorm:"column:wifi_board_sn;size:32;not null;index" json:"wifi_board_sn"`
	GeneralTestResult *string `gorm:"size:64;index" json:"general_test_result"`

	KnobTestResult  *string    `gorm:"size:64" json:"knob_test_result"`
	SpeedKnobResult *string    `gorm:"size:64" json:"speed_knob_result"`
	SpeedKnobRemark *string    `gorm:"size:255" json:"speed_knob_remark"`
	TimeKnobResult  *string    `gorm:"size:64" json:"time_knob_result"`
	TimeKnobRemark  *string    `gorm:"size:255" json:"time_knob_remark"`
	KnobStartTime   *time.Time `json:"knob_start_time"`
	KnobEndTime     *time.Time `json:"knob_end_time"`

	LightTestResult  *string    `gorm:"size:64" json:"light_test_result"`
	GreenLightResult *string    `gorm:"size:64" json:"green_light_result"`
	RedLightResult   *string    `gorm:"size:64" json:"red_light_result"`
	BlueLightResult  *string    `gorm:"size:64" json:"blue_light_result"`
	LightStartTime   *time.Time `json:"light_start_time"`
	LightEndTime     *time.Time `json:"light_end_time"`

	NetworkTestResult   *string    `gorm:"size:64" json:"network_test_result"`
	WifiSoftwareVersion *string    `gorm:"size:64" json:"wifi_software_version"`
	MacAddress          *string    `gorm:"size:64;index" json:"mac_address"`
	StartCommandResult  *string    `gorm:"size:64" json:"start_command_result"`
	SpeedCommandResult  *string    `gorm:"size:64" json:"speed_command_result"`
	StopCommandResult   *string    `gorm:"size:64" json:"stop_command_result"`
	NetworkStartTime    *time.Time `json:"network_start_time"`
	NetworkEndTime      *time.Time `json:"network_end_time"`

	SpeedData datatypes.JSON `json:"speed_data"`
	TimeData  datatypes.JSON `json:"time_data"`
	LightData datatypes.JSON `json:"light_data"`

	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	GeneralTestRemark *string    `gorm:"size:255" json:"general_test_remark"`
	LocalIP           *string    `gorm:"column:local_ip;size:128" json:"local_ip"`
	PublicIP          *string    `gorm:"column:public_ip;size:128" json:"public_ip"`
	Hostname          *string    `gorm:"size:255" json:"hostname"`
	AppVersion        *string    `gorm:"size:32" json:"app_version"`
	SoftDelete
}

// DriverBoardTest pairs each measured driver value with its verdict.
type DriverBoardTest struct {
	Base
	DriverBoardSN     string  `gorm:"column:driver_board_sn;size:32;not null;index" json:"driver_board_sn"`
	GeneralTestResult *string `gorm:"size:64;index" json:"general_test_result"`

	MotorStatus                 *string `gorm:"size:64" json:"motor_status"`
	MotorStatusResult           *string `gorm:"size:64" json:"motor_status_result"`
	MotorSpeed                  *string `gorm:"size:64" json:"motor_speed"`
	MotorSpeedResult            *string `gorm:"size:64" json:"motor_speed_result"`
	IPMTemperature              *string `gorm:"column:ipm_temperature;size:64" json:"ipm_temperature"`
	IPMTemperatureResult        *string `gorm:"column:ipm_temperature_result;size:64" json:"ipm_temperature_result"`
	DCVoltage                   *string `gorm:"column:dc_voltage;size:64" json:"dc_voltage"`
	DCVoltageResult             *string `gorm:"column:dc_voltage_result;size:64" json:"dc_voltage_result"`
	OutputPower                 *string `gorm:"size:64" json:"output_power"`
	OutputPowerResult           *string `gorm:"size:64" json:"output_power_result"`
	DriverSoftwareVersion       *string `gorm:"size:64" json:"driver_software_version"`
	DriverSoftwareVersionResult *string `gorm:"size:64" json:"driver_software_version_result"`

	TestRuntime       *int       `json:"test_runtime"`
	SetSpeed          *int       `json:"set_speed"`
	TestIPAddress     *string    `gorm:"column:test_ip_address;size:32" json:"test_ip_address"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	GeneralTestRemark *string    `gorm:"size:255" json:"general_test_remark"`
	SoftDelete
}

// IntegrateTest is the whole-product test: driver side measurements plus
// the AC side (voltage, current, power, leakage).
type IntegrateTest struct {
	Base
	ProductSN           string  `gorm:"column:product_sn;size:32;not null;index" json:"product_sn"`
	IntegrateTestResult *string `gorm:"size:64;index" json:"integrate_test_result"`

	DriverStatus                *string `gorm:"size:64" json:"driver_status"`
	DriverStatusResult          *string `gorm:"size:64" json:"driver_status_result"`
	MotorSpeed                  *string `gorm:"size:64" json:"motor_speed"`
	MotorSpeedResult            *string `gorm:"size:64" json:"motor_speed_result"`
	IPMTemperature              *string `gorm:"column:ipm_temperature;size:64" json:"ipm_temperature"`
	IPMTemperatureResult        *string `gorm:"column:ipm_temperature_result;size:64" json:"ipm_temperature_result"`
	DCVoltage                   *string `gorm:"column:dc_voltage;size:64" json:"dc_voltage"`
	DCVoltageResult             *string `gorm:"column:dc_voltage_result;size:64" json:"dc_voltage_result"`
	OutputPower                 *string `gorm:"size:64" json:"output_power"`
	OutputPowerResult           *string `gorm:"size:64" json:"output_power_result"`
	DriverSoftwareVersion       *string `gorm:"size:64" json:"driver_software_version"`
	DriverSoftwareVersionResult *string `gorm:"size:64" json:"driver_software_version_result"`

	ACVoltage            *string `gorm:"column:ac_voltage;size:64" json:"ac_voltage"`
	ACVoltageResult      *string `gorm:"column:ac_voltage_result;size:64" json:"ac_voltage_result"`
	Current              *string `gorm:"size:64" json:"current"`
	CurrentResult        *string `gorm:"size:64" json:"current_result"`
	Power                *string `gorm:"size:64" json:"power"`
	PowerResult          *string `gorm:"size:64" json:"power_result"`
	PowerFactor          *string `gorm:"size:64" json:"power_factor"`
	PowerFactorResult    *string `gorm:"size:64" json:"power_factor_result"`
	LeakageCurrent       *string `gorm:"size:64" json:"leakage_current"`
	LeakageCurrentResult *string `gorm:"size:64" json:"leakage_current_result"`

	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TestRuntime     *int       `json:"test_runtime"`
	TestDescription *string    `gorm:"size:255" json:"test_description"`
	Remark          *string    `gorm:"size:255" json:"remark"`
	LocalIP         *string    `gorm:"column:local_ip;size:128" json:"local_ip"`
	PublicIP        *string    `gorm:"column:public_ip;size:128" json:"public_ip"`
	Hostname        *string    `gorm:"size:255" json:"hostname"`

	IPMTemperatureDataID *string `gorm:"column:ipm_temperature_data_id;size:64;index" json:"ipm_temperature_data_id"`
	SoftDelete
}
