package results_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vulntrex/vulntrex/pkg/garak"
	"github.com/vulntrex/vulntrex/pkg/results"
)

func reportData(modelType, modelName string) *garak.RunData {
	data := garak.NewRunData()
	data.Meta.ModelType = modelType
	data.Meta.ModelName = modelName

	return data
}

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{id: "run-1", valid: true},
		{id: "garak.8f2c_01", valid: true},
		{id: "", valid: false},
		{id: ".", valid: false},
		{id: "..", valid: false},
		{id: "a/b", valid: false},
		{id: "a b", valid: false},
		{id: strings.Repeat("x", 129), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := results.ValidateRunID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, results.ErrInvalidRunID)
			}
		})
	}
}

func TestSanitizeRunID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "run-1", want: "run-1"},
		{in: " my scan ", want: "my_scan"},
		{in: "../etc/passwd", want: "etc_passwd"},
		{in: "...", want: ""},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, results.SanitizeRunID(tt.in))
		})
	}
}
