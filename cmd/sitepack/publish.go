package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/cfg"
	"github.com/keithlinneman/pdfsplit-web/internal/cryptoutil"
	"github.com/keithlinneman/pdfsplit-web/internal/publish"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// publish uploads an archive produced by an earlier pack run.
func (a *app) publish(ctx context.Context, args []string) error {
	fs := subFlags("publish", io.Discard)
	if err := parseSub(fs, args); err != nil {
		return err
	}
	path := a.zipPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	sum, size, err := cryptoutil.SHA256File(path)
	if err != nil {
		return xerrors.Wrapf(err, "hash %s", path)
	}
	_, err = a.publishResult(ctx, archive.Result{Path: path, Bytes: size, SHA256: sum})
	return err
}

func (a *app) publishResult(ctx context.Context, res archive.Result) (publish.Release, error) {
	if err := cfg.ValidatePublish(a.conf); err != nil {
		return publish.Release{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return publish.Release{}, xerrors.Wrap(err, "load AWS config")
	}

	opts := publish.Options{
		Logger:    a.L,
		S3Bucket:  a.conf.PublishS3Bucket,
		S3Prefix:  a.conf.PublishS3Prefix,
		SSMParam:  a.conf.PublishSSMParam,
		AWSConfig: &awsCfg,
	}
	if a.conf.SigningKeyARN != "" {
		opts.Signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(awsCfg), a.conf.SigningKeyARN)
	}

	p, err := publish.New(ctx, opts)
	if err != nil {
		return publish.Release{}, err
	}
	rel, err := p.Publish(ctx, res)
	a.m.ObservePublish(err)
	if err != nil {
		return rel, err
	}

	fmt.Fprintf(a.stdout, "published s3://%s/%s\n%s -> %s\n", rel.Bucket, rel.Key, rel.Param, rel.SHA256)
	a.L.Info(ctx, "release published",
		"sha256", rel.SHA256,
		"key", rel.Key,
		"previous", rel.Previous,
		"at", rel.At.Format(time.RFC3339),
	)
	return rel, nil
}
