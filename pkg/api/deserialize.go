package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

func (x *JobState) UnmarshalJSON(data []byte) error {
	var t string
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	for _, state := range JobStates {
		if strings.EqualFold(string(state), t) {
			*x = state
			return nil
		}
	}
	return fmt.Errorf("no JobState of type %s", t)
}

func (x *FragmentType) UnmarshalJSON(data []byte) error {
	var t string
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	switch value := FragmentType(strings.ToLower(t)); value {
	case FragmentWord, FragmentVariable, FragmentFlag:
		*x = value
		return nil
	}
	return fmt.Errorf("no FragmentType of type %s", t)
}

func (x *ParameterType) UnmarshalJSON(data []byte) error {
	var t string
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	switch value := ParameterType(strings.ToLower(t)); value {
	case ParameterText, ParameterInteger, ParameterFloatingPoint, ParameterBoolean, ParameterFile:
		*x = value
		return nil
	}
	return fmt.Errorf("no ParameterType of type %s", t)
}
