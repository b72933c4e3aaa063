package redcap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Flag is a boolean that REDCap serializes as 0/1, "0"/"1", or true/false.
type Flag bool

// UnmarshalJSON accepts numbers, strings, and booleans.
func (f *Flag) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	switch s {
	case "", "null", "0", "false":
		*f = false
		return nil
	case "1", "true":
		*f = true
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = n != 0
		return nil
	}
	return fmt.Errorf("redcap: invalid flag value %s", b)
}

// MarshalJSON writes the flag as 0 or 1.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return json.Marshal(1)
	}
	return json.Marshal(0)
}
