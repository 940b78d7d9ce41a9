package jobregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "", want: time.Hour},
		{input: "2:30", want: 2*time.Hour + 30*time.Minute},
		{input: "0:05", want: 5 * time.Minute},
		{input: "10:00", want: 10 * time.Hour},
		{input: "123:59", want: 123*time.Hour + 59*time.Minute},
		{input: " 1:15 ", want: time.Hour + 15*time.Minute},
		{input: "2", wantErr: true},
		{input: "2:3", wantErr: true},
		{input: "2:300", wantErr: true},
		{input: ":30", wantErr: true},
		{input: "a:bc", wantErr: true},
		{input: "2:60", wantErr: true},
		{input: "-1:00", wantErr: true},
		{input: "1h30m", wantErr: true},
		{input: "2562047:47", want: 2562047*time.Hour + 47*time.Minute},
		{input: "2562047:48", wantErr: true},
		{input: "3000000:00", wantErr: true},
		{input: "99999999999999999999:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDuration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1:00", FormatDuration(time.Hour))
	assert.Equal(t, "2:30", FormatDuration(150*time.Minute))
	assert.Equal(t, "0:00", FormatDuration(-time.Minute))
}

func TestNewRecord_EndFollowsRuntime(t *testing.T) {
	t.Setenv("SUDO_USER", "alice")
	start := time.Date(2026, 1, 19, 12, 0, 0, 0, time.Local)

	runtime, err := ParseDuration("2:30")
	require.NoError(t, err)
	rec := NewRecord(Request{Command: []string{"sleep", "1"}, Message: "m", Runtime: runtime}, start)
	assert.Equal(t, "2026-01-19 12:00:00", rec.Start)
	require.NotNil(t, rec.End)
	assert.Equal(t, "2026-01-19 14:30:00", *rec.End)
	assert.Equal(t, "sleep 1", rec.Cmd)
	assert.Equal(t, "alice", rec.User)
	assert.Equal(t, 0, rec.PID)

	def := NewRecord(Request{Command: []string{"true"}}, start)
	require.NotNil(t, def.End)
	assert.Equal(t, "2026-01-19 13:00:00", *def.End)
}

func TestResolveUser_PrefersSudoUser(t *testing.T) {
	t.Setenv("SUDO_USER", "alice")
	t.Setenv("USER", "root")
	assert.Equal(t, "alice", ResolveUser())

	t.Setenv("SUDO_USER", "")
	assert.Equal(t, "root", ResolveUser())
}
