package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rigdata/internal/fields"
	"rigdata/internal/models"
	"rigdata/internal/repository"
)

func str(key string, max int) fields.Spec {
	return fields.Spec{Key: key, Kind: fields.String, MaxLen: max}
}

func serial(key string) fields.Spec {
	return fields.Spec{Key: key, Kind: fields.String, MaxLen: 32, Required: true}
}

func ts(key string) fields.Spec { return fields.Spec{Key: key, Kind: fields.Time} }

func integer(key, hint string) fields.Spec {
	return fields.Spec{Key: key, Kind: fields.Int, Hint: hint}
}

func blob(key string) fields.Spec { return fields.Spec{Key: key, Kind: fields.JSON} }

// verdicts expands value/verdict pairs, e.g. motor_speed and
// motor_speed_result.
func verdicts(keys ...string) fields.Set {
	out := make(fields.Set, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, str(k, 64), str(k+"_result", 64))
	}
	return out
}

func rigMeta() fields.Set {
	return fields.Set{str("local_ip", 128), str("public_ip", 128), str("hostname", 255)}
}

var WifiBoardFields = concat(
	fields.Set{
		serial("wifi_board_sn"),
		{Key: "general_test_result", Kind: fields.String, MaxLen: 64, Default: models.ResultPending},
		str("knob_test_result", 64), str("speed_knob_result", 64), str("speed_knob_remark", 255),
		str("time_knob_result", 64), str("time_knob_remark", 255),
		ts("knob_start_time"), ts("knob_end_time"),
		str("light_test_result", 64), str("green_light_result", 64), str("red_light_result", 64),
		str("blue_light_result", 64), ts("light_start_time"), ts("light_end_time"),
		str("network_test_result", 64), str("wifi_software_version", 64), str("mac_address", 64),
		str("start_command_result", 64), str("speed_command_result", 64), str("stop_command_result", 64),
		ts("network_start_time"), ts("network_end_time"),
		blob("speed_data"), blob("time_data"), blob("light_data"),
		ts("start_time"), ts("end_time"), str("general_test_remark", 255),
		{Key: "app_version", Kind: fields.String, MaxLen: 32, Default: "1.0.0"},
	},
	rigMeta(),
)

var DriverBoardFields = concat(
	fields.Set{
		serial("driver_board_sn"),
		{Key: "general_test_result", Kind: fields.String, MaxLen: 64, Default: models.ResultPending},
	},
	verdicts("motor_status", "motor_speed", "ipm_temperature", "dc_voltage", "output_power", "driver_software_version"),
	fields.Set{
		integer("test_runtime", "(seconds)"),
		integer("set_speed", "(RPM)"),
		str("test_ip_address", 32),
		ts("start_time"), ts("end_time"), str("general_test_remark", 255),
	},
)

var IntegrateFields = concat(
	fields.Set{
		serial("product_sn"),
		{Key: "integrate_test_result", Kind: fields.String, MaxLen: 64, Default: models.ResultPending},
	},
	verdicts("driver_status", "motor_speed", "ipm_temperature", "dc_voltage", "output_power", "driver_software_version"),
	verdicts("ac_voltage", "current", "power", "power_factor", "leakage_current"),
	fields.Set{
		ts("start_time"), ts("end_time"),
		integer("test_runtime", "(seconds)"),
		str("test_description", 255), str("remark", 255),
		str("ipm_temperature_data_id", 64),
	},
	rigMeta(),
)

var TemperatureFields = concat(
	fields.Set{
		serial("product_sn"),
		{Key: "test_start_time", Target: "start_time", Kind: fields.Time},
		{Key: "test_end_time", Target: "end_time", Kind: fields.Time},
		integer("test_runtime", "(seconds)"),
		integer("sample_interval", "(seconds)"),
		blob("original_temperature"),
		integer("original_temperature_count", ""),
		blob("compensated_temperature"),
		{Key: "temperature_compensation_enabled", Kind: fields.Bool, Default: false},
		{Key: "temperature_compensation_value", Kind: fields.Float},
		integer("temperature_compensation_duration", "(seconds)"),
		str("app_version", 32), str("remark", 255),
	},
	rigMeta(),
)

var WifiLogFields = fields.Set{
	serial("wifi_board_sn"),
	{Key: "raw_data", Kind: fields.String, Required: true},
	str("mac_address", 64),
	str("local_ip", 64), str("public_ip", 64),
	str("host_name", 255),
	str("app_version", 32),
}

func concat(sets ...fields.Set) fields.Set {
	var out fields.Set
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// sortable lists the scalar columns of set plus the timestamps.
func sortable(set fields.Set) []string {
	cols := []string{"id", "create_time", "update_time"}
	for _, sp := range set {
		if sp.Kind == fields.JSON || sp.Kind == fields.StringList {
			continue
		}
		t := sp.Target
		if t == "" {
			t = sp.Key
		}
		cols = append(cols, t)
	}
	return cols
}

// deriveTemperatureCount fills original_temperature_count from the array
// length unless the client sent one.
func deriveTemperatureCount(_ context.Context, _ *gorm.DB, rec *models.TemperatureData, values map[string]any, _ bool) error {
	if _, sent := values["original_temperature_count"]; sent {
		return nil
	}
	if _, sent := values["original_temperature"]; !sent {
		return nil
	}
	if len(rec.OriginalTemperature) == 0 || string(rec.OriginalTemperature) == "null" {
		rec.OriginalTemperatureCount = nil
		return nil
	}
	var samples []json.RawMessage
	if err := json.Unmarshal(rec.OriginalTemperature, &samples); err != nil {
		return &fields.Error{Field: "original_temperature", Message: "original_temperature must be a list"}
	}
	n := len(samples)
	rec.OriginalTemperatureCount = &n
	return nil
}

// checkTemperatureRef rejects references to missing or deleted
// temperature logs.
func checkTemperatureRef(_ context.Context, tx *gorm.DB, rec *models.IntegrateTest, values map[string]any, _ bool) error {
	if _, sent := values["ipm_temperature_data_id"]; !sent || rec.IPMTemperatureDataID == nil {
		return nil
	}
	var ref models.TemperatureData
	err := tx.Select("id").Where("id = ? AND is_deleted = ?", *rec.IPMTemperatureDataID, false).Take(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &fields.Error{
			Field:   "ipm_temperature_data_id",
			Message: "ipm_temperature_data_id does not reference an existing temperature data record",
		}
	}
	return err
}

// Records holds the five test record resources.
type Records struct {
	WifiBoards   *Resource[models.WifiBoardTest]
	DriverBoards *Resource[models.DriverBoardTest]
	Integrate    *Resource[models.IntegrateTest]
	Temperature  *Resource[models.TemperatureData]
	WifiLogs     *Resource[models.WifiTestLog]
}

func NewRecords(db *gorm.DB, lg *zap.SugaredLogger, loc *time.Location) *Records {
	return &Records{
		WifiBoards: &Resource[models.WifiBoardTest]{
			Name: "wifi_board_tests", Label: "WiFi board test record",
			Store: repository.New[models.WifiBoardTest](db), Fields: WifiBoardFields,
			Sortable: sortable(WifiBoardFields), DefaultSort: "update_time",
			Params: []ListParam{
				{Param: "wifi_board_sn", Column: "wifi_board_sn", Match: repository.Substring},
				{Param: "general_test_result", Column: "general_test_result", Match: repository.Exact},
				{Param: "mac_address", Column: "mac_address", Match: repository.Substring},
			},
			Loc: loc, Log: lg,
		},
		DriverBoards: &Resource[models.DriverBoardTest]{
			Name: "driver_board_tests", Label: "Driver board test record",
			Store: repository.New[models.DriverBoardTest](db), Fields: DriverBoardFields,
			Sortable: sortable(DriverBoardFields), DefaultSort: "update_time",
			Params: []ListParam{
				{Param: "driver_board_sn", Column: "driver_board_sn", Match: repository.Substring},
				{Param: "general_test_result", Column: "general_test_result", Match: repository.Exact},
			},
			Loc: loc, Log: lg,
		},
		Integrate: &Resource[models.IntegrateTest]{
			Name: "integrate_tests", Label: "Integrate test record",
			Store: repository.New[models.IntegrateTest](db), Fields: IntegrateFields,
			Sortable: sortable(IntegrateFields), DefaultSort: "update_time",
			Params: []ListParam{
				{Param: "product_sn", Column: "product_sn", Match: repository.Substring},
				{Param: "integrate_sn", Column: "product_sn", Match: repository.Substring},
				{Param: "integrate_test_result", Column: "integrate_test_result", Match: repository.Exact},
			},
			Prepare: checkTemperatureRef,
			Loc:     loc,
			Log:     lg,
		},
		Temperature: &Resource[models.TemperatureData]{
			Name: "temperature_data", Label: "Temperature data record",
			Store: repository.New[models.TemperatureData](db), Fields: TemperatureFields,
			Sortable: sortable(TemperatureFields), DefaultSort: "update_time",
			Params: []ListParam{
				{Param: "product_sn", Column: "product_sn", Match: repository.Substring},
				{Param: "temperature_compensation_enabled", Column: "temperature_compensation_enabled", Match: repository.Flag},
			},
			Prepare: deriveTemperatureCount,
			Loc:     loc,
			Log:     lg,
		},
		WifiLogs: &Resource[models.WifiTestLog]{
			Name: "wifi_test_logs", Label: "WiFi test log",
			Store: repository.New[models.WifiTestLog](db), Fields: WifiLogFields,
			Sortable: sortable(WifiLogFields), DefaultSort: "create_time",
			Params: []ListParam{
				{Param: "wifi_board_sn", Column: "wifi_board_sn", Match: repository.Substring},
				{Param: "mac_address", Column: "mac_address", Match: repository.Substring},
			},
			Loc: loc, Log: lg,
		},
	}
}
