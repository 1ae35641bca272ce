package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uri     string
		want    Location
		wantErr bool
	}{
		{name: "simple", uri: "gs://exports/catalog.csv", want: Location{Bucket: "exports", Object: "catalog.csv"}},
		{name: "nested", uri: " gs://exports/sg/2024/catalog.csv ", want: Location{Bucket: "exports", Object: "sg/2024/catalog.csv"}},
		{name: "no object", uri: "gs://exports/", wantErr: true},
		{name: "no bucket", uri: "gs:///catalog.csv", wantErr: true},
		{name: "bucket only", uri: "gs://exports", wantErr: true},
		{name: "local path", uri: "/tmp/catalog.csv", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseURI(tc.uri)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, "gs://"+tc.want.Bucket+"/"+tc.want.Object, got.String())
		})
	}
}

func TestIsURI(t *testing.T) {
	t.Parallel()

	require.True(t, IsURI("gs://b/o"))
	require.False(t, IsURI("output.csv"))
	require.False(t, IsURI("file:///tmp/o.csv"))
}

func TestNewObjectWriterRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewObjectWriter(context.Background(), nil, Location{Bucket: "b", Object: "o"}, "text/csv")
	require.Error(t, err)
}
