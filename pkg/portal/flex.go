package portal

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// flexBool accepts true/false, 1/0 and their string spellings. The login
// RPC reports needCaptcha as "1".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	s := strings.Trim(string(data), `"`)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off":
		*b = false
	default:
		*b = true
	}
	return nil
}

// flexText accepts a string, a number, an array of texts (joined with
// ", ") or an object carrying a name/short field.
type flexText string

func (t *flexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = flexText(strings.TrimSpace(s))
	case '[':
		var parts []flexText
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p != "" {
				out = append(out, string(p))
			}
		}
		*t = flexText(strings.Join(out, ", "))
	case '{':
		var obj struct {
			Name  flexText `json:"name"`
			Short flexText `json:"short"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Name != "" {
			*t = obj.Name
		} else {
			*t = obj.Short
		}
	case 't', 'f':
		*t = flexText(string(data))
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return err
		}
		*t = flexText(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return nil
}
