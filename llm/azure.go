package llm

import (
	"context"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/m4xw311/parley/errors"
	"github.com/openai/openai-go/v2/azure"
	"github.com/openai/openai-go/v2/option"
)

// DefaultAzureAPIVersion is used when AZURE_OPENAI_API_VERSION is not set.
const DefaultAzureAPIVersion = "2024-10-21"

// NewAzureOpenAIProvider creates a provider for an Azure OpenAI deployment.
// AZURE_OPENAI_ENDPOINT is required. With AZURE_OPENAI_API_KEY set, the key is
// used; otherwise the DefaultAzureCredential chain (environment, managed
// identity, az login) authenticates the requests.
func NewAzureOpenAIProvider(ctx context.Context, catalog Catalog) (*OpenAIProvider, error) {
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if endpoint == "" {
		return nil, errors.New("AZURE_OPENAI_ENDPOINT environment variable not set")
	}
	apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
	if apiVersion == "" {
		apiVersion = DefaultAzureAPIVersion
	}

	options := []option.RequestOption{azure.WithEndpoint(endpoint, apiVersion)}
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		slog.Info("Using Azure OpenAI API key authentication", "endpoint", endpoint)
		options = append(options, azure.WithAPIKey(key))
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create Azure credential")
		}
		slog.Info("Using Azure AD authentication", "endpoint", endpoint)
		options = append(options, azureCredential(cred))
	}
	return newOpenAIProvider(catalog, options...), nil
}

func azureCredential(cred azcore.TokenCredential) option.RequestOption {
	return azure.WithTokenCredential(cred)
}
