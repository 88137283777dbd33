package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/webitel/report-orchestrator/internal/errors"
)

// UploaderConfig configures the client-side upload queue.
type UploaderConfig struct {
	File     string         `json:"-"`
	LogLevel string         `json:"logLevel"`
	Target   string         `json:"target"`
	LocalDB  string         `json:"localDB"`
	Queue    *QueueConfig   `json:"queue,omitempty"`
	Report   *ReportOptions `json:"report,omitempty"`
	Files    []string       `json:"-"`
}

type QueueConfig struct {
	Tick              time.Duration `json:"tick"`
	ReportPoll        time.Duration `json:"reportPoll"`
	BatchPoll         time.Duration `json:"batchPoll"`
	MaxUploads        int           `json:"maxUploads"`
	MaxUploadAttempts int           `json:"maxUploadAttempts"`
	RetryDelay        time.Duration `json:"retryDelay"`
	PendingTimeout    time.Duration `json:"pendingTimeout"`
	UploadingTimeout  time.Duration `json:"uploadingTimeout"`
	QueuedTimeout     time.Duration `json:"queuedTimeout"`
	ProcessingTimeout time.Duration `json:"processingTimeout"`
	KeepAlive         time.Duration `json:"keepAlive"`
}

type ReportOptions struct {
	Hours    int      `json:"hours"`
	Sections []string `json:"sections"`
	Label    string   `json:"label"`
	Batch    bool     `json:"batch"`
	EmailTo  []string `json:"emailTo"`
	Clear    bool     `json:"clear"`

	EmailFrom    string `json:"emailFrom"`
	EmailSubject string `json:"emailSubject"`
}

func LoadUploaderConfig(args []string) (*UploaderConfig, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("uploader", pflag.ContinueOnError)
	fs.String("config_file", "", "Configuration file in JSON format")
	fs.String("log_level", "", "Log level (debug, info, warn, error)")
	fs.String("target", "localhost:8080", "Orchestrator address, host:port or consul://host/service")
	fs.String("local_db", "uploader.db", "Local recovery store path")

	fs.Duration("tick", 250*time.Millisecond, "Dispatch loop interval")
	fs.Duration("report_poll", time.Second, "Report status poll interval")
	fs.Duration("batch_poll", 500*time.Millisecond, "Batch status poll interval")
	fs.Int("max_uploads", 2, "Concurrent uploads")
	fs.Int("max_upload_attempts", 3, "Upload attempts before an item fails")
	fs.Duration("retry_delay", 5*time.Second, "Delay before a failed upload is retried")
	fs.Duration("pending_timeout", time.Minute, "Pending stage budget")
	fs.Duration("uploading_timeout", 10*time.Minute, "Uploading stage budget")
	fs.Duration("queued_timeout", 10*time.Minute, "Queued stage budget")
	fs.Duration("processing_timeout", 15*time.Minute, "Processing stage budget")
	fs.Duration("keepalive", 20*time.Minute, "Session renewal interval, below the server inactivity logout")

	fs.Int("hours", 24, "Report period in hours")
	fs.StringSlice("sections", nil, "Report sections")
	fs.String("label", "", "Report label")
	fs.Bool("batch", false, "Request a zip of all finished reports")
	fs.StringSlice("email", nil, "Mail the batch link to these addresses")
	fs.String("email_from", "Report uploader", "Sender name shown in the email")
	fs.String("email_subject", "Your reports are ready", "Email subject")
	fs.Bool("clear", false, "Cancel outstanding reports and clear the local queue")

	if err := fs.Parse(args); err != nil {
		return nil, errors.New("could not parse flags", errors.WithCause(err))
	}

	_ = v.BindPFlags(fs)
	v.SetEnvPrefix("uploader")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	file := v.GetString("config_file")
	if file != "" {
		if err := loadFromFile(v, file); err != nil {
			return nil, err
		}
	}

	cfg := &UploaderConfig{
		File:     file,
		LogLevel: v.GetString("log_level"),
		Target:   v.GetString("target"),
		LocalDB:  v.GetString("local_db"),
		Queue: &QueueConfig{
			Tick:              v.GetDuration("tick"),
			ReportPoll:        v.GetDuration("report_poll"),
			BatchPoll:         v.GetDuration("batch_poll"),
			MaxUploads:        v.GetInt("max_uploads"),
			MaxUploadAttempts: v.GetInt("max_upload_attempts"),
			RetryDelay:        v.GetDuration("retry_delay"),
			PendingTimeout:    v.GetDuration("pending_timeout"),
			UploadingTimeout:  v.GetDuration("uploading_timeout"),
			QueuedTimeout:     v.GetDuration("queued_timeout"),
			ProcessingTimeout: v.GetDuration("processing_timeout"),
			KeepAlive:         v.GetDuration("keepalive"),
		},
		Report: &ReportOptions{
			Hours:    v.GetInt("hours"),
			Sections: v.GetStringSlice("sections"),
			Label:    v.GetString("label"),
			Batch:    v.GetBool("batch"),
			EmailTo:  v.GetStringSlice("email"),
			Clear:    v.GetBool("clear"),

			EmailFrom:    v.GetString("email_from"),
			EmailSubject: v.GetString("email_subject"),
		},
		Files: fs.Args(),
	}
	if err := validateUploaderConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateUploaderConfig(cfg *UploaderConfig) error {
	if cfg.Target == "" {
		return errors.New("target is required")
	}
	if cfg.LocalDB == "" {
		return errors.New("local db path is required")
	}
	q := cfg.Queue
	if q.MaxUploads < 1 {
		return errors.New("max uploads must be at least 1")
	}
	if q.MaxUploadAttempts < 1 {
		return errors.New("max upload attempts must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"tick": q.Tick, "report_poll": q.ReportPoll, "batch_poll": q.BatchPoll,
		"pending_timeout": q.PendingTimeout, "uploading_timeout": q.UploadingTimeout,
		"queued_timeout": q.QueuedTimeout, "processing_timeout": q.ProcessingTimeout,
		"keepalive": q.KeepAlive,
	} {
		if d <= 0 {
			return errors.New(fmt.Sprintf("%s must be positive", name))
		}
	}
	if cfg.Report.Hours < 1 {
		return errors.New("hours must be at least 1")
	}
	return nil
}
