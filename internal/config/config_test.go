package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("demo")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "demo", cfg.Project.ID)
	assert.Equal(t, []string{"bug", "task"}, cfg.ObjectTypeNames())
	assert.Contains(t, cfg.RBAC.Roles["admin"].Permissions, "rbac.manage")
	assert.Equal(t, 5.0, cfg.Report.FetchRPS)
}

func TestFromYAMLRejectsBrokenWorkflows(t *testing.T) {
	base := `project:
  id: p
object_types:
  bug:
    fields:
      - name: severity
    statuses:
`
	cases := map[string]string{
		"no start": `      - name: open
        category: IN_PROGRESS
        color: red
`,
		"unknown transfer": `      - name: open
        category: START
        color: red
        transfer_to: [gone]
`,
		"unknown field": `      - name: open
        category: START
        color: red
        check_fields: [resolution]
`,
		"bad token": `      - name: open
        category: START
        color: red
        set_owners: [somebody]
`,
		"bad category": `      - name: open
        category: LATER
        color: red
`,
		"duplicate": `      - name: open
        category: START
        color: red
      - name: open
        category: END
        color: red
`,
	}
	for name, statuses := range cases {
		_, err := config.FromYAML([]byte(base + statuses))
		assert.Error(t, err, name)
	}

	ok := base + `      - name: open
        category: start
        color: red
        transfer_to: [closed]
        permission_owners: [creater, role_qa]
      - name: closed
        category: END
        color: green
        check_fields: [severity]
`
	cfg, err := config.FromYAML([]byte(ok))
	require.NoError(t, err)
	assert.Len(t, cfg.ObjectTypes["bug"].Statuses, 2)
}

func TestLoadOptionalAndPath(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = config.Load(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "statusflow.yml"))

	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("p2")), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "p2", cfg.Project.ID)
	assert.Equal(t, filepath.Join(dir, "statusflow.yml"), config.Path(dir))
}

func TestMinioRequiresBucket(t *testing.T) {
	cfg := config.Default("p")
	cfg.Report.Minio = &config.MinioConfig{Endpoint: "localhost:9000"}
	assert.Error(t, cfg.Validate())
	cfg.Report.Minio.Bucket = "reports"
	assert.NoError(t, cfg.Validate())
}
