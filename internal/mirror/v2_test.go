package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleV2Feed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:d="http://schemas.microsoft.com/ado/2007/08/dataservices"
      xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <entry>
    <title type="text">Pkg.Legacy</title>
    <author><name>Carol</name></author>
    <m:properties>
      <d:Id>Pkg.Legacy</d:Id>
      <d:Version>1.0.0-RC.1</d:Version>
      <d:Description>Legacy package.</d:Description>
      <d:Published>2023-05-01T12:00:00Z</d:Published>
      <d:Tags>legacy odata</d:Tags>
      <d:Dependencies>Dep.One:[1.0.0, ):net45|::net48</d:Dependencies>
    </m:properties>
  </entry>
  <entry>
    <author><name>Carol</name></author>
    <m:properties>
      <d:Id>Pkg.Legacy</d:Id>
      <d:Version>2.0.0</d:Version>
    </m:properties>
  </entry>
</feed>`

func newV2Server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/nuget/FindPackagesById()", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "'Pkg.Legacy'" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, sampleV2Feed)
	})
	mux.HandleFunc("/nuget/package/pkg.legacy/1.0.0-rc.1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "legacy-archive")
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func legacyClientFor(server *httptest.Server) *LegacyClient {
	return NewLegacyClient(SourceConfig{
		Enabled:          true,
		Legacy:           true,
		PackageSourceURL: server.URL + "/nuget",
	})
}

func TestV2_ListPackageVersions(t *testing.T) {
	client := legacyClientFor(newV2Server(t))

	versions, err := client.ListPackageVersions(context.Background(), "Pkg.Legacy")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0-rc.1", "2.0.0"}, versions)
}

func TestV2_ListPackageVersions_UnknownID(t *testing.T) {
	client := legacyClientFor(newV2Server(t))

	versions, err := client.ListPackageVersions(context.Background(), "Missing.Package")
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.NotNil(t, versions)
}

func TestV2_ListPackages(t *testing.T) {
	client := legacyClientFor(newV2Server(t))

	packages, err := client.ListPackages(context.Background(), "Pkg.Legacy")
	require.NoError(t, err)
	require.Len(t, packages, 2)

	first := packages[0]
	assert.Equal(t, "Pkg.Legacy", first.PackageID)
	assert.Equal(t, "1.0.0-rc.1", first.NormalizedVersion)
	assert.True(t, first.IsPrerelease)
	assert.Equal(t, []string{"Carol"}, first.Authors)
	assert.Equal(t, []string{"legacy", "odata"}, first.Tags)
	assert.Equal(t, "2023-05-01T12:00:00Z", first.Published.Format("2006-01-02T15:04:05Z"))

	require.Len(t, first.Dependencies, 2)
	require.NotNil(t, first.Dependencies[0].DependencyID)
	assert.Equal(t, "Dep.One", *first.Dependencies[0].DependencyID)
	assert.Equal(t, "net45", first.Dependencies[0].TargetFramework)
	assert.True(t, first.Dependencies[1].IsFrameworkSentinel(), "empty id marks a zero-dependency framework group")
	assert.Equal(t, "net48", first.Dependencies[1].TargetFramework)
}

func TestV2_DownloadPackage(t *testing.T) {
	client := legacyClientFor(newV2Server(t))

	content, err := client.DownloadPackage(context.Background(), "Pkg.Legacy", "1.0.0-RC.1")
	require.NoError(t, err)
	require.NotNil(t, content)
	defer content.Close()

	data, err := io.ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, "legacy-archive", string(data))
}

func TestParseV2Dependencies(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"empty", "", 0},
		{"single", "Dep.One:[1.0.0, ):net6.0", 1},
		{"multiple", "Dep.One:1.0.0:net6.0|Dep.Two:2.0.0:net6.0", 2},
		{"sentinel only", "::net8.0", 1},
		{"id without range or framework", "Dep.One", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, parseV2Dependencies(tt.raw), tt.want)
		})
	}
}
