package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	input := "alice,secret1\n  bob , secret2\n\ncarol,p@ss,word\n"

	_, err := Load(strings.NewReader(input), ',')
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 4, malformed.Line)
}

func TestLoad_Valid(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		delimiter rune
		want      []Credential
	}{
		{
			name:      "comma",
			input:     "alice,secret1\nbob,secret2\n",
			delimiter: ',',
			want:      []Credential{{"alice", "secret1"}, {"bob", "secret2"}},
		},
		{
			name:      "blank lines and whitespace",
			input:     "\n alice , secret1 \n\n\nbob,secret2",
			delimiter: ',',
			want:      []Credential{{"alice", "secret1"}, {"bob", "secret2"}},
		},
		{
			name:      "semicolon",
			input:     "alice;a,b\n",
			delimiter: ';',
			want:      []Credential{{"alice", "a,b"}},
		},
		{
			name:      "bare quotes are literal",
			input:     "alice,pa\"ss\nb\"ob,se\"cr\"et\n",
			delimiter: ',',
			want:      []Credential{{"alice", "pa\"ss"}, {"b\"ob", "se\"cr\"et"}},
		},
		{
			name:      "quoted field keeps the delimiter",
			input:     "carol,\"p,w\"\n",
			delimiter: ',',
			want:      []Credential{{"carol", "p,w"}},
		},
		{
			name:      "default delimiter",
			input:     "alice,x",
			delimiter: 0,
			want:      []Credential{{"alice", "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(strings.NewReader(tt.input), tt.delimiter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_Fatal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrEmptySource},
		{"only blank lines", "\n\n\n", ErrEmptySource},
		{"single field", "alice\n", ErrMalformed},
		{"empty username", ",secret\n", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := Load(strings.NewReader(tt.input), ',')
			assert.Nil(t, creds)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.txt")
	require.NoError(t, os.WriteFile(path, []byte("alice,secret1\nbob,secret2\n"), 0o600))

	creds, err := LoadFile(path, ',')
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	_, err = LoadFile(filepath.Join(dir, "missing.txt"), ',')
	assert.Error(t, err)
}

func TestCredentialStringHidesPassword(t *testing.T) {
	c := Credential{Username: "alice", Password: "hunter2"}
	assert.Equal(t, "alice", c.String())
	assert.NotContains(t, c.String(), "hunter2")
}
