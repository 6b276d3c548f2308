// Package awsprovider resolves credentials template references from AWS
// SSM Parameter Store and AWS Secrets Manager.
package awsprovider

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/wolfeidau/tensor-cache/credentials"
)

// WithAWS registers both the "ssm" and "secretsmanager" functions using
// SDK clients built from cfg.
func WithAWS(cfg aws.Config) credentials.ResolverOption {
	ssmOpt := WithSSM(NewSSM(ssm.NewFromConfig(cfg)))
	smOpt := WithSecretsManager(NewSecretsManager(secretsmanager.NewFromConfig(cfg)))
	return func(r *credentials.Resolver) {
		ssmOpt(r)
		smOpt(r)
	}
}
