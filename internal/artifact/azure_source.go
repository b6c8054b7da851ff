package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureSource reads bundle files from a blob container under a fixed prefix
type AzureSource struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureSource creates a shared-key authenticated blob source
func NewAzureSource(accountName, accountKey, container, prefix string) (*AzureSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid storage credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureSource{client: client, container: container, prefix: prefix}, nil
}

// Download streams one bundle file into dest
func (s *AzureSource) Download(ctx context.Context, name string, dest io.Writer) error {
	blobName := s.prefix + name

	resp, err := s.client.DownloadStream(ctx, s.container, blobName, nil)
	if err != nil {
		return &FetchError{Kind: classifyBlobError(err), File: name, Err: err}
	}
	defer resp.Body.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		return &FetchError{Kind: ErrNetwork, File: name, Err: err}
	}
	return nil
}

func classifyBlobError(err error) ErrorKind {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return ErrMissingFile
	case bloberror.HasCode(err,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationFailure,
		bloberror.InsufficientAccountPermissions):
		return ErrPermission
	default:
		return ErrNetwork
	}
}
