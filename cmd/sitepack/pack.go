package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/pdfsplit-web/internal/archive"
	"github.com/keithlinneman/pdfsplit-web/internal/cryptoutil"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

func (a *app) packager() *archive.Packager {
	return archive.New(archive.Options{
		Enabled:   a.conf.BuildZip.Bool(),
		SourceDir: a.sourceDir(),
		Dest:      a.zipPath(),
		Level:     a.conf.ZipLvl,
		Logger:    a.L,
	})
}

// pack is the build's close phase: it blocks until the archive is finished
// (or fails) before anything downstream runs.
func (a *app) pack(ctx context.Context, args []string) error {
	fs := subFlags("pack", io.Discard)
	watch := fs.Bool("watch", false, "repack whenever the build output changes")
	interval := fs.Duration("interval", archive.DefaultPollInterval, "watch poll interval")
	publishAfter := fs.Bool("publish", false, "publish the archive after a successful pack")
	if err := parseSub(fs, args); err != nil {
		return err
	}

	p := a.packager()
	if *watch {
		if !a.conf.BuildZip.Bool() {
			a.L.Warn(ctx, "watch mode with archiving disabled; nothing will be written", "hint", "set VITE_BUILD_ZIP=true")
		}
		a.m.WithRuntimeCollectors()
		err := archive.NewWatcher(archive.WatcherOptions{
			Logger:       a.L,
			Packager:     p,
			PollInterval: *interval,
			OnPack:       func(res archive.Result) { a.m.ObservePack(res, nil) },
			Metrics:      a.m,
		}).Run(ctx)
		// a signal is the normal way to leave watch mode
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	}

	job := p.Start(ctx)
	res, err := job.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// let the run remove its temp file, then report its own outcome
		<-job.Done()
		res, err = job.Wait(context.WithoutCancel(ctx))
	}
	a.m.ObservePack(res, err)
	if err != nil {
		return err
	}
	if res.Disabled {
		a.L.Debug(ctx, "archive step disabled", "hint", "set VITE_BUILD_ZIP=true")
		return nil
	}
	if *publishAfter {
		_, err := a.publishResult(ctx, res)
		return err
	}
	return nil
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := subFlags("verify", io.Discard)
	against := fs.String("against", "", "build directory the archive must match")
	sigPath := fs.String("sig", "", "detached signature to check (needs -signing-key-arn)")
	if err := parseSub(fs, args); err != nil {
		return err
	}
	path := a.zipPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	start := time.Now()
	man, err := archive.Inspect(path)
	if err != nil {
		return err
	}
	sum, size, err := cryptoutil.SHA256File(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: %d files, %d bytes uncompressed, %d bytes on disk\nsha256 %s\n",
		path, man.Files, man.TotalBytes, size, sum)

	if *against != "" {
		mismatches, err := man.Compare(os.DirFS(*against))
		if err != nil {
			return err
		}
		for _, mm := range mismatches {
			fmt.Fprintln(a.stdout, "mismatch", mm.String())
		}
		if len(mismatches) > 0 {
			return xerrors.Newf("%s does not match %s: %d differences", path, *against, len(mismatches))
		}
	}

	if *sigPath != "" {
		if err := a.verifySignature(ctx, sum, *sigPath); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "signature ok", a.conf.SigningKeyARN)
	}

	a.L.Info(ctx, "archive verified",
		"path", path,
		"files", man.Files,
		"sha256", sum,
		"duration", time.Since(start).String(),
	)
	return nil
}

func (a *app) verifySignature(ctx context.Context, sum, sigPath string) error {
	if a.conf.SigningKeyARN == "" {
		return fmt.Errorf("%w: -sig needs -signing-key-arn", errUsage)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return xerrors.Wrapf(err, "read signature %s", sigPath)
	}
	// accept raw or hex encoded signature files
	if dec, err := hex.DecodeString(strings.TrimSpace(string(sig))); err == nil {
		sig = dec
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return xerrors.Wrap(err, "load AWS config")
	}
	signer := cryptoutil.NewKMSSigner(kms.NewFromConfig(awsCfg), a.conf.SigningKeyARN)
	return signer.Verify(ctx, []byte(sum), sig)
}
