package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// IsEmpty checks if a string is empty.
func IsEmpty(s string) bool {
	return s == ""
}

// IsBlank checks if a string is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ParseStructEnv binds env vars to struct fields using a mapstructure tag
func ParseStructEnv(cfg interface{}) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if IsEmpty(tag) {
			continue
		}
		if err := viper.BindEnv(tag); err != nil {
			return err
		}
	}
	return viper.Unmarshal(cfg)
}

// FormatConfigErrors logs every failed config constraint by env var name and returns one readable error.
// cfg is the struct that was validated; its mapstructure tags give the env var names.
func FormatConfigErrors(logger *zap.Logger, err error, cfg interface{}) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		name := fe.Field()
		if field, ok := t.FieldByName(fe.StructField()); ok {
			if tag := field.Tag.Get("mapstructure"); !IsEmpty(tag) {
				name = tag
			}
		}
		rule := fe.Tag()
		if !IsEmpty(fe.Param()) {
			rule = fmt.Sprintf("%s=%s", rule, fe.Param())
		}
		logger.Error("invalid_config_value", zap.String("env", name), zap.String("rule", rule))
		problems = append(problems, fmt.Sprintf("%s (%s)", name, rule))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
}
