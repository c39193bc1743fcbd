package gdrive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const docMimeType = "application/vnd.google-apps.document"

// Uploader copies exported transcripts into a Drive folder as Google Docs.
// Uploading the same name again updates the existing document, including one
// created by an earlier run.
type Uploader struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewUploader(ctx context.Context, credPath, folderID string) (*Uploader, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newUploader(svc, folderID), nil
}

func newUploader(svc *drive.Service, folderID string) *Uploader {
	return &Uploader{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}
}

// Upload sends the file at localPath as name and returns the Drive file ID.
func (u *Uploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	fileID, ok := u.fileIDs[name]
	if !ok {
		fileID, err = u.lookup(ctx, name)
		if err != nil {
			return "", err
		}
		if fileID != "" {
			u.fileIDs[name] = fileID
		}
	}

	if fileID != "" {
		if _, err := u.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("drive update: %w", err)
		}
		return fileID, nil
	}

	file := &drive.File{
		Name:     name,
		MimeType: docMimeType,
	}
	if u.folderID != "" {
		file.Parents = []string{u.folderID}
	}
	doc, err := u.service.Files.Create(file).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create: %w", err)
	}

	u.fileIDs[name] = doc.Id
	return doc.Id, nil
}

// lookup returns the id of an existing document called name in the folder,
// or "" when there is none.
func (u *Uploader) lookup(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), docMimeType)
	if u.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(u.folderID))
	}

	list, err := u.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive lookup %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
