package secretsmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/go-cmp/cmp"
)

type fakeSecretsManager struct {
	text   map[string]string
	binary map[string][]byte
	err    error
	calls  map[string]int
	stages []string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	name := aws.ToString(in.SecretId)
	f.calls[name]++
	f.stages = append(f.stages, aws.ToString(in.VersionStage))
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.text[name]; ok {
		return &secretsmanager.GetSecretValueOutput{Name: in.SecretId, SecretString: aws.String(v)}, nil
	}
	if v, ok := f.binary[name]; ok {
		return &secretsmanager.GetSecretValueOutput{Name: in.SecretId, SecretBinary: v}, nil
	}
	return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
}

func testSecrets() *fakeSecretsManager {
	return &fakeSecretsManager{
		text: map[string]string{
			"app/db":    `{"host":"localhost","port":5432,"tls":{"enabled":true},"replicas":["a","b"]}`,
			"app/name":  "demo",
			"app/array": `["x"]`,
		},
		binary: map[string][]byte{"app/blob": []byte("raw")},
	}
}

func TestGetValues(t *testing.T) {
	tests := []struct {
		name      string
		noFlatten bool
		keys      []string
		want      map[string]string
	}{
		{
			name: "json flattened",
			keys: []string{"/app/db"},
			want: map[string]string{
				"/app/db/host":        "localhost",
				"/app/db/port":        "5432",
				"/app/db/tls/enabled": "true",
				"/app/db/replicas":    `["a","b"]`,
			},
		},
		{
			name: "plain string",
			keys: []string{"/app/name"},
			want: map[string]string{"/app/name": "demo"},
		},
		{
			name: "json array kept whole",
			keys: []string{"/app/array"},
			want: map[string]string{"/app/array": `["x"]`},
		},
		{
			name: "binary base64",
			keys: []string{"/app/blob"},
			want: map[string]string{"/app/blob": "cmF3"},
		},
		{
			name: "field of parent secret",
			keys: []string{"/app/db/host", "/app/db/tls/enabled"},
			want: map[string]string{"/app/db/host": "localhost", "/app/db/tls/enabled": "true"},
		},
		{
			name: "missing secret and field",
			keys: []string{"/app/missing", "/app/db/missing"},
			want: map[string]string{},
		},
		{
			name:      "flattening disabled",
			noFlatten: true,
			keys:      []string{"/app/db", "/app/db/host"},
			want:      map[string]string{"/app/db": `{"host":"localhost","port":5432,"tls":{"enabled":true},"replicas":["a","b"]}`},
		},
		{
			name: "root key skipped",
			keys: []string{"/"},
			want: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(testSecrets(), "", tt.noFlatten)
			got, err := c.GetValues(context.Background(), tt.keys)
			if err != nil {
				t.Fatalf("GetValues() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GetValues() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetValues_FetchesOnce(t *testing.T) {
	api := testSecrets()
	c := newClient(api, "AWSPREVIOUS", false)
	if _, err := c.GetValues(context.Background(), []string{"/app/db", "/app/db/host", "/app/db/port"}); err != nil {
		t.Fatalf("GetValues() error: %v", err)
	}
	if api.calls["app/db"] != 1 {
		t.Errorf("secret app/db fetched %d times, want 1", api.calls["app/db"])
	}
	for _, stage := range api.stages {
		if stage != "AWSPREVIOUS" {
			t.Errorf("version stage = %q, want AWSPREVIOUS", stage)
		}
	}
}

func TestGetValues_Error(t *testing.T) {
	boom := errors.New("access denied")
	api := testSecrets()
	api.err = boom
	c := newClient(api, "", false)
	if _, err := c.GetValues(context.Background(), []string{"/app/db"}); !errors.Is(err, boom) {
		t.Errorf("GetValues() error = %v, want %v", err, boom)
	}
}

func TestNewClient_DefaultStage(t *testing.T) {
	if c := newClient(testSecrets(), "", false); c.versionStage != DefaultVersionStage {
		t.Errorf("versionStage = %q, want %q", c.versionStage, DefaultVersionStage)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"not found is healthy", nil, false},
		{"access denied", errors.New("AccessDeniedException"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(&fakeSecretsManager{err: tt.err}, "", false)
			if err := c.HealthCheck(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWatchPrefix(t *testing.T) {
	c := newClient(testSecrets(), "", false)
	stop := make(chan bool, 1)
	stop <- true
	if idx, err := c.WatchPrefix(context.Background(), "/app", nil, 2, stop); err != nil || idx != 2 {
		t.Errorf("WatchPrefix() = %d, %v; want 2, nil", idx, err)
	}
}
