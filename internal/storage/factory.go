package storage

import (
	"context"
	"fmt"
)

type Config struct {
	Driver   string // local | s3
	LocalDir string
	Region   string
	Bucket   string
	Prefix   string
}

type FactoryResult struct {
	Driver  string
	Storage Storage
}

func New(ctx context.Context, cfg Config) (FactoryResult, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "local"
	}

	switch driver {
	case "local":
		dir := cfg.LocalDir
		if dir == "" {
			dir = "./storage/incidents"
		}
		return FactoryResult{Driver: "local", Storage: NewLocal(dir)}, nil

	case "s3":
		if cfg.Region == "" || cfg.Bucket == "" {
			return FactoryResult{}, fmt.Errorf("S3 config missing: S3_REGION, S3_BUCKET required")
		}
		s, err := NewS3(ctx, S3Config{
			Region: cfg.Region,
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
		if err != nil {
			return FactoryResult{}, err
		}
		return FactoryResult{Driver: "s3", Storage: s}, nil

	default:
		return FactoryResult{}, fmt.Errorf("unknown ARCHIVE_DRIVER: %s", driver)
	}
}
