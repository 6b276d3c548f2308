package awsprovider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/wolfeidau/tensor-cache/credentials"
)

// SecretsManagerName is the template function registered by WithSecretsManager.
const SecretsManagerName = "secretsmanager"

// SecretsManagerClient is the interface for AWS Secrets Manager operations.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, secretID string) (string, error)
}

// WithSecretsManager registers a "secretsmanager" template function that resolves secrets from AWS Secrets Manager.
func WithSecretsManager(client SecretsManagerClient) credentials.ResolverOption {
	return credentials.WithProvider(SecretsManagerName, func(ctx context.Context, ref string) (string, error) {
		val, err := client.GetSecretValue(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("SecretsManager GetSecretValue %q: %w", ref, err)
		}
		return val, nil
	})
}

// SecretsManagerAPI is the subset of *secretsmanager.Client used by
// NewSecretsManager.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type secretsManagerClient struct {
	api SecretsManagerAPI
}

// NewSecretsManager adapts an SDK client to SecretsManagerClient. Only
// string secrets are supported.
func NewSecretsManager(api SecretsManagerAPI) SecretsManagerClient {
	return &secretsManagerClient{api: api}
}

func (c *secretsManagerClient) GetSecretValue(ctx context.Context, secretID string) (string, error) {
	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	return aws.ToString(out.SecretString), nil
}
