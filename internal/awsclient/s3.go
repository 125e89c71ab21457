// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

type s3Config struct {
	RoleARN   string
	Region    string
	Endpoint  string
	PathStyle bool
	Anonymous bool
}

// S3Option is a functional option for GetS3.
type S3Option func(*s3Config)

// WithRole sets the IAM Role ARN to assume (empty = no assume).
func WithRole(roleARN string) S3Option {
	return func(c *s3Config) {
		c.RoleARN = roleARN
	}
}

// WithRegion overrides the AWS region for this call.
func WithRegion(region string) S3Option {
	return func(c *s3Config) {
		c.Region = region
	}
}

// WithEndpoint forces a custom S3 endpoint (eg a MinIO mirror of a public
// dataset).
func WithEndpoint(url string) S3Option {
	return func(c *s3Config) {
		c.Endpoint = url
	}
}

// WithPathStyle uses path-style addressing instead of virtual-host.
func WithPathStyle() S3Option {
	return func(c *s3Config) {
		c.PathStyle = true
	}
}

// WithAnonymous sends unsigned requests, as required by open-data buckets.
func WithAnonymous() S3Option {
	return func(c *s3Config) {
		c.Anonymous = true
	}
}

type roleKey struct {
	Region  string
	RoleARN string
}

type s3Key struct {
	roleKey
	Endpoint  string
	PathStyle bool
	Anonymous bool
}

// GetS3 returns a client for the given options. Clients are cached so that
// concurrent workers share connection pools.
func (m *Manager) GetS3(ctx context.Context, opts ...S3Option) (*S3Client, error) {
	sc := s3Config{
		Region: m.baseCfg.Region,
	}
	for _, o := range opts {
		o(&sc)
	}

	key := s3Key{
		roleKey:   roleKey{Region: sc.Region, RoleARN: sc.RoleARN},
		Endpoint:  sc.Endpoint,
		PathStyle: sc.PathStyle,
		Anonymous: sc.Anonymous,
	}
	m.RLock()
	client, ok := m.clients[key]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()
	if client, ok = m.clients[key]; ok {
		return client, nil
	}

	var provider aws.CredentialsProvider
	switch {
	case sc.Anonymous:
		provider = aws.AnonymousCredentials{}
	case sc.RoleARN == "":
		provider = m.baseCfg.Credentials
	default:
		var found bool
		if provider, found = m.providers[key.roleKey]; !found {
			p := stscreds.NewAssumeRoleProvider(m.stsClient, sc.RoleARN, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = m.sessionName
			})
			provider = aws.NewCredentialsCache(p)
			m.providers[key.roleKey] = provider
		}
	}

	cfg := m.baseCfg.Copy()
	cfg.Region = sc.Region
	cfg.Credentials = provider

	client = &S3Client{
		Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			if sc.Endpoint != "" {
				o.BaseEndpoint = aws.String(sc.Endpoint)
			}
			o.UsePathStyle = sc.PathStyle
		}),
		Tracer: m.tracer,
	}
	m.clients[key] = client
	return client, nil
}
