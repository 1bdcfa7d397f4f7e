package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sap-gg/azrelay/internal"
	"github.com/sap-gg/azrelay/internal/archive"
	"github.com/sap-gg/azrelay/internal/azure"
	"github.com/sap-gg/azrelay/internal/checksum"
	"github.com/sap-gg/azrelay/internal/publish"
	"github.com/sap-gg/azrelay/internal/receipt"
)

func (p *Pipeline) workPath(name string) string {
	return filepath.Join(p.cfg.WorkDir, name)
}

func (p *Pipeline) resolveDefinition(ctx context.Context) error {
	id, err := p.resolver.ResolveDefinitionID(ctx, p.cfg.Azure.Definition)
	if err != nil {
		return err
	}
	p.result.DefinitionID = id

	log.Info().
		Str("definition", p.cfg.Azure.Definition).
		Int("id", id).
		Msg("resolved definition")
	return nil
}

func (p *Pipeline) resolveBuild(ctx context.Context) error {
	filter := azure.BuildFilter{
		Branch:       p.cfg.Azure.Branch,
		StatusFilter: p.cfg.Azure.StatusFilter,
		ResultFilter: p.cfg.Azure.ResultFilter,
	}
	id, err := p.resolver.ResolveLatestBuildID(ctx, p.result.DefinitionID, filter)
	if err != nil {
		return err
	}
	p.result.BuildID = id

	log.Info().
		Str("branch", p.cfg.Azure.Branch).
		Int("build", id).
		Msg("resolved latest build")
	return nil
}

func (p *Pipeline) resolveArtifacts(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := p.resolver.ResolveArtifact(gctx, p.result.BuildID, p.cfg.Artifacts.Name)
		p.result.Artifact = a
		return err
	})
	g.Go(func() error {
		a, err := p.resolver.ResolveArtifact(gctx, p.result.BuildID, p.cfg.Artifacts.ChecksumName)
		p.result.ChecksumArtifact = a
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().
		Str("artifact", p.result.Artifact.DownloadURL()).
		Str("checksum", p.result.ChecksumArtifact.DownloadURL()).
		Msg("resolved artifacts")
	return nil
}

func (p *Pipeline) download(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.downloader.Fetch(gctx, p.result.Artifact.DownloadURL(), p.workPath(internal.DownloadedArchiveName))
		return err
	})
	g.Go(func() error {
		_, err := p.downloader.Fetch(gctx, p.result.ChecksumArtifact.DownloadURL(), p.workPath(internal.ChecksumArchiveName))
		return err
	})
	return g.Wait()
}

func (p *Pipeline) unpack(_ context.Context) error {
	for _, name := range []string{internal.DownloadedArchiveName, internal.ChecksumArchiveName} {
		files, err := archive.ExtractFlat(p.workPath(name), p.cfg.WorkDir)
		if err != nil {
			return fmt.Errorf("unpacking %s: %w", name, err)
		}
		log.Debug().Str("archive", name).Strs("files", files).Msg("unpacked")
	}

	for _, name := range []string{internal.CacheFileName, internal.ChecksumFileName} {
		if _, err := os.Stat(p.workPath(name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("downloaded artifacts did not contain %s", name)
			}
			return err
		}
	}
	return nil
}

func (p *Pipeline) verifyPair(_ context.Context) error {
	checksumPath := p.workPath(internal.ChecksumFileName)
	content, err := os.ReadFile(checksumPath)
	if err != nil {
		return fmt.Errorf("reading checksum file: %w", err)
	}
	expected := strings.TrimSpace(string(content))

	artifactPath := p.workPath(internal.CacheFileName)
	actual, err := checksum.Verify(artifactPath, checksum.Spec{
		Algorithm: internal.PairAlgorithm,
		Expected:  expected,
	})
	if err != nil {
		return err
	}

	p.result.Pair = &VerifiedPair{
		ArtifactPath:     artifactPath,
		ChecksumFilePath: checksumPath,
		Expected:         expected,
		Actual:           actual,
	}
	log.Info().Str("sha256", actual).Msg("artifact matches its checksum")
	return nil
}

func (p *Pipeline) publishPair(ctx context.Context) error {
	pair := p.result.Pair
	if pair == nil || pair.Actual != pair.Expected {
		return errors.New("refusing to publish an unverified pair")
	}

	tag, err := publish.TagFromRef(p.cfg.Release.Ref)
	if err != nil {
		return err
	}

	artifactPath := p.workPath(p.cfg.Artifacts.Name + internal.ArchiveSuffix)
	checksumPath := p.workPath(p.cfg.Artifacts.ChecksumName + internal.ChecksumSuffix)
	if err := os.Rename(pair.ArtifactPath, artifactPath); err != nil {
		return fmt.Errorf("renaming artifact: %w", err)
	}
	if err := os.Rename(pair.ChecksumFilePath, checksumPath); err != nil {
		return fmt.Errorf("renaming checksum file: %w", err)
	}
	pair.ArtifactPath, pair.ChecksumFilePath = artifactPath, checksumPath

	release, err := p.publisher.ResolveRelease(ctx, p.cfg.Release.Owner(), p.cfg.Release.Repo(), tag)
	if err != nil {
		return err
	}
	p.result.Release = release

	artifactAsset, err := publish.NewAsset(artifactPath, p.cfg.Artifacts.Name, internal.ZipContentType)
	if err != nil {
		return err
	}
	checksumAsset, err := publish.NewAsset(checksumPath, p.cfg.Artifacts.ChecksumName, internal.TextContentType)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	uploads := make(map[string]string, 2)
	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range []publish.Asset{artifactAsset, checksumAsset} {
		g.Go(func() error {
			url, err := p.publisher.Upload(gctx, release, asset)
			if err != nil {
				return err
			}
			mu.Lock()
			uploads[asset.Name] = url
			mu.Unlock()
			log.Debug().Str("asset", asset.Name).Msg("upload finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.result.Uploads = uploads

	// the assets are live at this point, so the run counts as published
	if err := p.writeReceipt(ctx, tag, artifactAsset, checksumAsset); err != nil {
		log.Warn().Err(err).Msg("assets published but the receipt could not be written")
	}
	return nil
}

func (p *Pipeline) writeReceipt(ctx context.Context, tag string, assets ...publish.Asset) error {
	r := receipt.New(p.cfg.Azure.Definition, p.result.DefinitionID, p.result.BuildID)
	r.Tag = tag
	for _, asset := range assets {
		if err := r.Add(asset.Name, asset.Path, asset.ContentType, p.result.Uploads[asset.Name]); err != nil {
			return err
		}
	}
	if err := receipt.Write(ctx, p.cfg.WorkDir, r); err != nil {
		return err
	}
	p.result.Receipt = r
	return nil
}
