package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logitow/blebridge/pkg/config"
)

func newLoggingCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	_ = cmd.Flags().Parse(args)
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	debugCfg := config.DefaultConfig()
	debugCfg.LogLevel = "debug"

	tests := []struct {
		name    string
		args    []string
		cfg     *config.Config
		want    logrus.Level
		wantErr string
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "log level flag", args: []string{"--log-level", "warn"}, want: logrus.WarnLevel},
		{name: "verbose", args: []string{"--verbose"}, want: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, want: logrus.ErrorLevel},
		{name: "config ignored unless loaded", cfg: debugCfg, want: logrus.PanicLevel},
		{name: "loaded config", args: []string{"--config", "x.yaml"}, cfg: debugCfg, want: logrus.DebugLevel},
		{name: "flag wins over config", args: []string{"--config", "x.yaml", "--log-level", "info"}, cfg: debugCfg, want: logrus.InfoLevel},
		{name: "invalid level", args: []string{"--log-level", "trace"}, wantErr: "invalid log level: trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingCmd(tt.args...), tt.cfg, "verbose")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
