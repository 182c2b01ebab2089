// Package publish uploads a finished site archive to S3 under its content
// hash and moves the SSM release pointer to it.
//
// Layout:
//
//	s3://{bucket}/{prefix}/{sha256}.zip       the archive
//	s3://{bucket}/{prefix}/{sha256}.zip.sig   detached KMS signature (optional)
//	ssm:{param}                               current release hash
package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/cryptoutil"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// ErrNothingToPublish is returned for a disabled packaging result.
var ErrNothingToPublish = errors.New("publish: no archive was produced")

// S3API is the subset of the S3 API the publisher uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SSMAPI is the subset of the SSM API the publisher uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// Signer produces a detached signature over the archive digest.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	KeyARN() string
}

type Options struct {
	Logger log.Logger

	S3Bucket string
	S3Prefix string
	SSMParam string

	// Signer is optional; without it no .sig object is written.
	Signer Signer

	// Clients default to ones built from AWSConfig, or from the default
	// credential chain when AWSConfig is nil.
	S3        S3API
	SSM       SSMAPI
	AWSConfig *aws.Config
}

// Release describes one published archive.
type Release struct {
	SHA256   string
	Bytes    int64
	Bucket   string
	Key      string
	SigKey   string
	Param    string
	Previous string
	At       time.Time
}

type Publisher struct {
	opts   Options
	s3     S3API
	ssm    SSMAPI
	logger log.Logger
}

// New creates a Publisher with the given options
func New(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	p := &Publisher{opts: opts, s3: opts.S3, ssm: opts.SSM, logger: opts.Logger}
	if p.s3 != nil && p.ssm != nil {
		return p, nil
	}

	var awsCfg aws.Config
	var err error
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	if p.s3 == nil {
		p.s3 = s3.NewFromConfig(awsCfg)
	}
	if p.ssm == nil {
		p.ssm = ssm.NewFromConfig(awsCfg)
	}
	return p, nil
}

// s3Key returns the S3 object key for a given hash
func (p *Publisher) s3Key(hash string) string {
	if p.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s.zip", p.opts.S3Prefix, hash)
	}
	return fmt.Sprintf("%s.zip", hash)
}

// Current returns the release hash the SSM pointer holds, or "" when the
// parameter does not exist yet.
func (p *Publisher) Current(ctx context.Context) (string, error) {
	out, err := p.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(p.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	var nf *ssmtypes.ParameterNotFound
	if errors.As(err, &nf) {
		return "", nil
	}
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", p.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", nil
	}
	return *out.Parameter.Value, nil
}

// Publish uploads the archive described by res and points the release
// parameter at it. The on-disk file is re-hashed first; a file that changed
// since packaging is never uploaded.
func (p *Publisher) Publish(ctx context.Context, res archive.Result) (rel Release, err error) {
	if res.Disabled || res.Path == "" {
		return Release{}, ErrNothingToPublish
	}

	ctx, span := otel.Tracer("pdfsplit-web/publish").Start(ctx, "publish.release")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sum, n, err := cryptoutil.SHA256File(res.Path)
	if err != nil {
		return Release{}, err
	}
	// the archive on disk must still be the one that was packed
	if !cryptoutil.HashEqual(sum, res.SHA256) {
		return Release{}, xerrors.Newf("archive %s changed since packaging: expected %s, got %s", res.Path, res.SHA256, sum)
	}
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return Release{}, xerrors.Wrap(err, "decode digest")
	}

	rel = Release{
		SHA256: sum,
		Bytes:  n,
		Bucket: p.opts.S3Bucket,
		Key:    p.s3Key(sum),
		Param:  p.opts.SSMParam,
	}
	span.SetAttributes(
		attribute.String("publish.sha256", sum),
		attribute.String("publish.key", rel.Key),
	)

	if rel.Previous, err = p.Current(ctx); err != nil {
		return Release{}, err
	}
	if rel.Previous != "" && cryptoutil.HashEqual(rel.Previous, sum) {
		p.logger.Info(ctx, "release pointer already at this archive, nothing to do",
			"sha256", sum,
			"param", rel.Param,
		)
		rel.At = time.Now().UTC()
		return rel, nil
	}

	p.logger.Info(ctx, "uploading archive",
		"bucket", rel.Bucket,
		"key", rel.Key,
		"bytes", n,
	)
	if err := p.upload(ctx, res.Path, rel.Key, n, raw, sum); err != nil {
		return Release{}, err
	}

	if p.opts.Signer != nil {
		sig, err := p.opts.Signer.Sign(ctx, []byte(sum))
		if err != nil {
			return Release{}, xerrors.Wrap(err, "sign archive digest")
		}
		rel.SigKey = rel.Key + ".sig"
		_, err = p.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(rel.Bucket),
			Key:         aws.String(rel.SigKey),
			Body:        bytes.NewReader(sig),
			ContentType: aws.String("application/octet-stream"),
			Metadata: map[string]string{
				"sha256":  sum,
				"key-arn": p.opts.Signer.KeyARN(),
			},
		})
		if err != nil {
			return Release{}, xerrors.Wrapf(err, "put S3 object s3://%s/%s", rel.Bucket, rel.SigKey)
		}
	}

	_, err = p.ssm.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(rel.Param),
		Value:     aws.String(sum),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return Release{}, xerrors.Wrapf(err, "put SSM parameter %s", rel.Param)
	}
	rel.At = time.Now().UTC()

	p.logger.Info(ctx, "published archive",
		"sha256", sum,
		"previous", rel.Previous,
		"key", rel.Key,
		"signed", rel.SigKey != "",
	)
	return rel, nil
}

func (p *Publisher) upload(ctx context.Context, path, key string, size int64, raw []byte, sum string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	_, err = p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(p.opts.S3Bucket),
		Key:            aws.String(key),
		Body:           f,
		ContentLength:  aws.Int64(size),
		ContentType:    aws.String("application/zip"),
		ChecksumSHA256: aws.String(base64.StdEncoding.EncodeToString(raw)),
		Metadata:       map[string]string{"sha256": sum},
	})
	if err != nil {
		return xerrors.Wrapf(err, "put S3 object s3://%s/%s", p.opts.S3Bucket, key)
	}
	return nil
}
