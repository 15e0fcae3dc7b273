package config

import (
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Redis       *Redis        `yaml:"redis"`
	Server      Server        `yaml:"server"`
	Recording   Recording     `yaml:"recording"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
	Kind string `json:"kind"`
}

type Redis struct {
	MasterAddr  string `yaml:"master_addr"`
	ReplicaAddr string `yaml:"replica_addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
}

// Recording holds the knobs of the segment-state layer and the recording
// loop. Zero values are replaced by defaults in Load.
type Recording struct {
	LiveTTL             time.Duration `yaml:"live_ttl"`
	SegmentTTL          time.Duration `yaml:"segment_ttl"`
	RenewThreshold      time.Duration `yaml:"renew_threshold"`
	LockLease           time.Duration `yaml:"lock_lease"`
	LockWaitTimeout     time.Duration `yaml:"lock_wait_timeout"`
	RetryParallelLimit  int           `yaml:"retry_parallel_limit"`
	InvalidSegNumDiff   int           `yaml:"invalid_seg_num_diff"`
	InvalidSegmentAge   time.Duration `yaml:"invalid_segment_age"`
	BundleSizeMB        int           `yaml:"bundle_size_mb"`
	UploadRetryLimit    int           `yaml:"upload_retry_limit"`
	HttpTimeout         time.Duration `yaml:"http_timeout"`
	HttpRetryLimit      int           `yaml:"http_retry_limit"`
	WaitLiveTimeout     time.Duration `yaml:"wait_live_timeout"`
	IntervalMin         time.Duration `yaml:"interval_min"`
	IntervalMax         time.Duration `yaml:"interval_max"`
	TempDir             string        `yaml:"temp_dir"`
	StorageBasePath     string        `yaml:"storage_base_path"`
	SchedulerPollPeriod time.Duration `yaml:"scheduler_poll_period"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host: viper.GetString("rabbitmq_host"),
		Port: viper.GetInt("rabbitmq_port"),
		User: viper.GetString("rabbitmq_user"),
		Pass: viper.GetString("rabbitmq_pass"),
		Kind: viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	redisCfg := &Redis{
		MasterAddr:  viper.GetString("redis.master_addr"),
		ReplicaAddr: viper.GetString("redis.replica_addr"),
		Password:    viper.GetString("redis.password"),
		DB:          viper.GetInt("redis.db"),
	}

	recording := Recording{
		LiveTTL:             viper.GetDuration("recording.live_ttl"),
		SegmentTTL:          viper.GetDuration("recording.segment_ttl"),
		RenewThreshold:      viper.GetDuration("recording.renew_threshold"),
		LockLease:           viper.GetDuration("recording.lock_lease"),
		LockWaitTimeout:     viper.GetDuration("recording.lock_wait_timeout"),
		RetryParallelLimit:  viper.GetInt("recording.retry_parallel_limit"),
		InvalidSegNumDiff:   viper.GetInt("recording.invalid_seg_num_diff"),
		InvalidSegmentAge:   viper.GetDuration("recording.invalid_segment_age"),
		BundleSizeMB:        viper.GetInt("recording.bundle_size_mb"),
		UploadRetryLimit:    viper.GetInt("recording.upload_retry_limit"),
		HttpTimeout:         viper.GetDuration("recording.http_timeout"),
		HttpRetryLimit:      viper.GetInt("recording.http_retry_limit"),
		WaitLiveTimeout:     viper.GetDuration("recording.wait_live_timeout"),
		IntervalMin:         viper.GetDuration("recording.interval_min"),
		IntervalMax:         viper.GetDuration("recording.interval_max"),
		TempDir:             viper.GetString("recording.temp_dir"),
		StorageBasePath:     viper.GetString("recording.storage_base_path"),
		SchedulerPollPeriod: viper.GetDuration("recording.scheduler_poll_period"),
	}
	applyRecordingDefaults(&recording)

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Queue:     rabbitmq,
		Storage:   minioClient,
		Redis:     redisCfg,
		Recording: recording,
	}, nil
}

func applyRecordingDefaults(r *Recording) {
	if r.LiveTTL <= 0 {
		r.LiveTTL = 6 * time.Hour
	}
	if r.SegmentTTL <= 0 {
		r.SegmentTTL = 6 * time.Hour
	}
	if r.RenewThreshold <= 0 {
		r.RenewThreshold = 60 * time.Second
	}
	if r.LockLease <= 0 {
		r.LockLease = 10 * time.Second
	}
	if r.LockWaitTimeout <= 0 {
		r.LockWaitTimeout = 5 * time.Second
	}
	if r.RetryParallelLimit <= 0 {
		r.RetryParallelLimit = 3
	}
	if r.InvalidSegNumDiff <= 0 {
		// about five minutes of two-second segments
		r.InvalidSegNumDiff = 150
	}
	if r.InvalidSegmentAge <= 0 {
		r.InvalidSegmentAge = 120 * time.Second
	}
	if r.BundleSizeMB <= 0 {
		r.BundleSizeMB = 64
	}
	if r.UploadRetryLimit <= 0 {
		r.UploadRetryLimit = 5
	}
	if r.HttpTimeout <= 0 {
		r.HttpTimeout = 10 * time.Second
	}
	if r.HttpRetryLimit <= 0 {
		r.HttpRetryLimit = 3
	}
	if r.WaitLiveTimeout <= 0 {
		r.WaitLiveTimeout = 30 * time.Second
	}
	if r.IntervalMin <= 0 {
		r.IntervalMin = 700 * time.Millisecond
	}
	if r.IntervalMax <= 0 {
		r.IntervalMax = 1200 * time.Millisecond
	}
	if r.TempDir == "" {
		r.TempDir = "temp"
	}
	if r.StorageBasePath == "" {
		r.StorageBasePath = "recordings"
	}
	if r.SchedulerPollPeriod <= 0 {
		r.SchedulerPollPeriod = time.Second
	}
}
