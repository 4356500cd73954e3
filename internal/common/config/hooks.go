package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"
)

var quantityType = reflect.TypeOf(resource.Quantity{})

// DecoderOptions are passed to viper.Unmarshal so that durations, comma separated lists and kubernetes quantities
// can be written as plain strings in yaml and environment variables.
func DecoderOptions() []viper.DecoderConfigOption {
	return []viper.DecoderConfigOption{
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			QuantityDecodeHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)),
	}
}

// QuantityDecodeHook parses "6Gi", "500m" and bare numbers into resource.Quantity. An empty string is the zero
// quantity.
func QuantityDecodeHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != quantityType {
			return data, nil
		}
		raw := strings.TrimSpace(fmt.Sprintf("%v", data))
		if raw == "" {
			return resource.Quantity{}, nil
		}
		q, err := resource.ParseQuantity(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid quantity %q", raw)
		}
		return q, nil
	}
}
