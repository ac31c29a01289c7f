package scanner

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// RestOptions are the REST generator fields a scan request may carry.
// Headers, templates, codes and proxies arrive as JSON text.
type RestOptions struct {
	URI                   string `mapstructure:"uri"`
	Method                string `mapstructure:"method"`
	Headers               string `mapstructure:"headers"`
	ReqTemplate           string `mapstructure:"req_template"`
	ReqTemplateJSONObject string `mapstructure:"req_template_json_object"`
	ResponseJSON          bool   `mapstructure:"response_json"`
	ResponseJSONField     string `mapstructure:"response_json_field"`
	RequestTimeout        int    `mapstructure:"request_timeout"`
	RatelimitCodes        string `mapstructure:"ratelimit_codes"`
	SkipCodes             string `mapstructure:"skip_codes"`
	VerifySSL             bool   `mapstructure:"verify_ssl"`
	Proxies               string `mapstructure:"proxies"`
}

// RestGenerator is the generator section written to the scanner's
// generator option file.
type RestGenerator struct {
	Name                  string            `json:"name"`
	URI                   string            `json:"uri"`
	Method                string            `json:"method,omitempty"`
	Headers               map[string]string `json:"headers"`
	ReqTemplate           string            `json:"req_template,omitempty"`
	ReqTemplateJSONObject any               `json:"req_template_json_object,omitempty"`
	ResponseJSON          bool              `json:"response_json"`
	ResponseJSONField     string            `json:"response_json_field,omitempty"`
	RequestTimeout        int               `json:"request_timeout,omitempty"`
	RatelimitCodes        []int             `json:"ratelimit_codes"`
	SkipCodes             []int             `json:"skip_codes"`
	VerifySSL             bool              `json:"verify_ssl"`
	Proxies               map[string]string `json:"proxies,omitempty"`
}

// DecodeRestOptions converts the loosely typed request map into
// RestOptions. Numbers and booleans sent as strings are accepted.
func DecodeRestOptions(raw map[string]any) (*RestOptions, error) {
	opts := &RestOptions{}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           opts,
		DecodeHook:       jsonValueToString,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding rest config: %w", err)
	}

	return opts, nil
}

// jsonValueToString lets JSON-text fields also arrive as structured
// values by re-encoding them.
func jsonValueToString(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}

	switch from.Kind() {
	case reflect.Map, reflect.Slice:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}

		return string(b), nil
	default:
		return data, nil
	}
}

// Generator builds the REST generator section. Malformed JSON text in
// an optional field is logged and replaced by its default.
func (o *RestOptions) Generator(log logrus.FieldLogger) *RestGenerator {
	gen := &RestGenerator{
		Name:              o.URI,
		URI:               o.URI,
		Method:            o.Method,
		Headers:           map[string]string{},
		ReqTemplate:       o.ReqTemplate,
		ResponseJSON:      o.ResponseJSON,
		ResponseJSONField: o.ResponseJSONField,
		RequestTimeout:    o.RequestTimeout,
		RatelimitCodes:    []int{429},
		SkipCodes:         []int{},
		VerifySSL:         o.VerifySSL,
	}

	parseLenient(log, "headers", o.Headers, &gen.Headers)
	parseLenient(log, "req_template_json_object", o.ReqTemplateJSONObject, &gen.ReqTemplateJSONObject)
	parseLenient(log, "ratelimit_codes", o.RatelimitCodes, &gen.RatelimitCodes)
	parseLenient(log, "skip_codes", o.SkipCodes, &gen.SkipCodes)
	parseLenient(log, "proxies", o.Proxies, &gen.Proxies)

	return gen
}

// GeneratorOptions wraps a generator in the layout the scanner reads
// from its -G option file.
func GeneratorOptions(gen *RestGenerator) map[string]any {
	return map[string]any{
		"rest": map[string]any{
			"RestGenerator": gen,
		},
	}
}

func parseLenient[T any](log logrus.FieldLogger, field, text string, dst *T) {
	if text == "" {
		return
	}

	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		log.WithError(err).WithField("field", field).Warn("Ignoring malformed REST option")

		return
	}

	*dst = v
}
