package core_test

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/voluntas/core"
	appfs "github.com/trezcool/voluntas/fs"
)

type errorsLogger struct {
	errors []string
}

func (l *errorsLogger) Debug(string, ...interface{})       {}
func (l *errorsLogger) Info(string, ...interface{})        {}
func (l *errorsLogger) Warn(string, ...interface{})        {}
func (l *errorsLogger) Error(msg string, _ ...interface{}) { l.errors = append(l.errors, msg) }
func (l *errorsLogger) Fatal(msg string, _ ...interface{}) { l.errors = append(l.errors, msg) }

func TestEmbeddedEmailLayouts(t *testing.T) {
	for _, name := range []string{"_base.txt", "_base.gohtml"} {
		_, err := fs.Stat(appfs.FS, "assets/templates/email/"+name)
		assert.NoError(t, err, name)
	}
}

func TestParseEmailTemplates(t *testing.T) {
	conf := core.NewTestConfig()
	logger := new(errorsLogger)
	require.NoError(t, core.ParseEmailTemplates(conf, appfs.FS, logger))
	assert.Empty(t, logger.errors)

	tests := []struct {
		tmpl     string
		data     interface{}
		wantText string
	}{
		{
			tmpl:     "rank_changed",
			data:     map[string]interface{}{"Name": "Jane", "Body": "You were promoted to Member.", "Points": 20},
			wantText: "Current points: 20",
		},
		{
			tmpl:     "password_reset",
			data:     map[string]string{"Name": "Jane", "Path": "/password-reset/uid/token"},
			wantText: "http://localhost:8080/password-reset/uid/token",
		},
	}
	for _, tc := range tests {
		t.Run(tc.tmpl, func(t *testing.T) {
			msg := &core.EmailMessage{TemplateName: tc.tmpl, TemplateData: tc.data}
			require.NoError(t, msg.Render())
			assert.True(t, msg.HasContent())
			assert.Contains(t, msg.TextContent, "Hi Jane")
			assert.Contains(t, msg.TextContent, tc.wantText)
			assert.Contains(t, msg.TextContent, "Voluntas")
			assert.NotEmpty(t, msg.HTMLContent)
			assert.Contains(t, msg.HTMLContent, "Jane")
		})
	}
}

func TestParseEmailTemplates_Failures(t *testing.T) {
	noLayout := fstest.MapFS{
		"assets/templates/email/welcome.txt": {Data: []byte(`{{define "content"}}Hi{{end}}`)},
	}

	t.Run("strict", func(t *testing.T) {
		logger := new(errorsLogger)
		err := core.ParseEmailTemplates(core.NewTestConfig(), noLayout, logger)
		assert.Error(t, err)
	})

	t.Run("lenient", func(t *testing.T) {
		conf := core.NewTestConfig()
		conf.Debug, conf.TestMode = false, false
		logger := new(errorsLogger)
		require.NoError(t, core.ParseEmailTemplates(conf, noLayout, logger))
		assert.Len(t, logger.errors, 1)
	})

	t.Run("no templates", func(t *testing.T) {
		assert.Error(t, core.ParseEmailTemplates(core.NewTestConfig(), fstest.MapFS{}, new(errorsLogger)))
	})

	// leave the real templates parsed for the other tests
	require.NoError(t, core.ParseEmailTemplates(core.NewTestConfig(), appfs.FS, new(errorsLogger)))
}
