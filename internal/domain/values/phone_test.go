package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhoneNumber(t *testing.T) {
	tests := []struct {
		name     string
		number   string
		expected string
		wantErr  bool
	}{
		{
			name:     "valid E.164 US number",
			number:   "+14155551234",
			expected: "+14155551234",
			wantErr:  false,
		},
		{
			name:     "digits without plus",
			number:   "4155551234",
			expected: "+4155551234",
			wantErr:  false,
		},
		{
			name:     "number with separators",
			number:   "+1 (415) 555-1234",
			expected: "+14155551234",
			wantErr:  false,
		},
		{
			name:     "international UK number",
			number:   "+442071234567",
			expected: "+442071234567",
			wantErr:  false,
		},
		{
			name:    "empty number",
			number:  "",
			wantErr: true,
		},
		{
			name:    "too short",
			number:  "123",
			wantErr: true,
		},
		{
			name:    "letters",
			number:  "phone",
			wantErr: true,
		},
		{
			name:    "plus in the middle",
			number:  "415+5551234",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phone, err := NewPhoneNumber(tt.number)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, phone.E164())
			}
		})
	}
}

func TestPhoneNumberJSON(t *testing.T) {
	phone := MustNewPhoneNumber("+14155551234")

	data, err := json.Marshal(phone)
	require.NoError(t, err)
	assert.Equal(t, `"+14155551234"`, string(data))

	var decoded PhoneNumber
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, phone.Equal(decoded))
}

func TestPhoneNumberIsEmpty(t *testing.T) {
	assert.True(t, PhoneNumber{}.IsEmpty())
	assert.False(t, MustNewPhoneNumber("+14155551234").IsEmpty())
}
