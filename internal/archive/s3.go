package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/config"
)

// Manifest describes one uploaded day.
type Manifest struct {
	Date      string       `json:"date"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []FileDigest `json:"files"`
}

// FileDigest is one archived file with its checksum.
type FileDigest struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Uploader ships day archives to an S3-compatible bucket.
type Uploader struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewUploader builds an S3 uploader from the archive settings. Returns
// (nil, nil) when no bucket is configured.
func NewUploader(cfg *config.Config, log zerolog.Logger) (*Uploader, error) {
	if !cfg.S3Configured() {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		client: client,
		bucket: cfg.S3Bucket,
		log:    log.With().Str("service", "archive_upload").Logger(),
	}, nil
}

// UploadDay packs the date directory into a tar.gz with a checksum
// manifest and uploads it.
func (u *Uploader) UploadDay(ctx context.Context, dir, date string) error {
	u.log.Info().Str("date", date).Msg("Starting archive upload")
	startTime := time.Now()

	archiveName := fmt.Sprintf("handmill-archive-%s.tar.gz", date)
	archivePath := filepath.Join(os.TempDir(), archiveName)
	defer os.Remove(archivePath)

	if err := u.packDay(archivePath, dir, date); err != nil {
		return fmt.Errorf("pack archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	uploader := manager.NewUploader(u.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(archiveName),
		Body:   archiveFile,
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}

	info, _ := os.Stat(archivePath)
	var sizeMB int64
	if info != nil {
		sizeMB = info.Size() / 1024 / 1024
	}
	u.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_mb", sizeMB).
		Msg("Archive upload completed")
	return nil
}

// packDay writes dir's database files plus a manifest to a tar.gz.
func (u *Uploader) packDay(archivePath, dir, date string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	manifest := Manifest{Date: date, CreatedAt: time.Now().UTC()}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			return err
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", e.Name(), err)
		}
		manifest.Files = append(manifest.Files, FileDigest{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, path)
	}
	if len(files) == 0 {
		return fmt.Errorf("no database files under %s", dir)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gzipWriter := gzip.NewWriter(out)
	defer gzipWriter.Close()
	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    "archive-manifest.json",
		Size:    int64(len(manifestData)),
		Mode:    0644,
		ModTime: manifest.CreatedAt,
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := tarWriter.Write(manifestData); err != nil {
		return err
	}

	for _, path := range files {
		if err := addFileToArchive(tarWriter, path, filepath.Base(path)); err != nil {
			return fmt.Errorf("add %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// fileChecksum calculates the SHA256 checksum of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// addFileToArchive adds a single file to a tar archive.
func addFileToArchive(tarWriter *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}
	return nil
}
