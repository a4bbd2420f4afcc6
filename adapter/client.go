/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package adapter

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"time"

	vkit "cloud.google.com/go/spanner/adapter/apiv1"
	"cloud.google.com/go/spanner/adapter/apiv1/adapterpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/option/internaloption"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"google.golang.org/grpc/metadata"
	_ "google.golang.org/grpc/xds/googledirectpath"

	// Install RLS load balancer policy, which is needed for gRPC RLS.
	_ "google.golang.org/grpc/balancer/rls"
)

const (
	// defaultSpannerEndpoint is the default spanner APIs grpc endpoint.
	defaultSpannerEndpoint = "spanner.googleapis.com:443"
	// current version
	version = "0.1.0" // x-release-please-version
	// resourcePrefixHeader is the name of the metadata header used to indicate
	// the resource being operated on.
	resourcePrefixHeader = "google-cloud-resource-prefix"
	// requestParamsHeader carries routing parameters gRPC load balancers use
	// to pin a request to the right backend shard.
	requestParamsHeader = "x-goog-request-params"
	// routeToLeaderHeader opts a single AdaptMessage call into leader-aware
	// routing; set only for DML-shaped requests.
	routeToLeaderHeader = "x-goog-spanner-route-to-leader"
)

// SkipAuthOpts disables ADC credential lookup. It exists for tests that spin
// up an AdapterClient without real Google credentials on the machine.
var SkipAuthOpts = []option.ClientOption{option.WithoutAuthentication()}

var (
	// SessionRefreshTimeInterval defines the interval for refreshing Adapter
	// sessions. Adapter Sessions have a 7-day lifetime and are refreshed 1 day
	// before expiry to provide a buffer against potential delays.
	SessionRefreshTimeInterval = 6 * 24 * time.Hour
	CreateSessionGrpc          = func(ctx context.Context, req *adapterpb.CreateSessionRequest, cl *AdapterClient) (*adapterpb.Session, error) {
		var md metadata.MD
		resp, err := cl.gapicClient.CreateSession(
			contextWithOutgoingMetadata(ctx, cl.createSessionMetadata(), false),
			req,
			gax.WithGRPCOptions(grpc.Header(&md)),
		)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
)

// session is the opaque handle returned by CreateSession. Its name is echoed
// back on every AdaptMessage request issued against it.
type session struct {
	name string
}

// The AdapterClient encapsulates the gRPC connection / adapter stub creation,
// and owns the sessionManager responsible for keeping one session alive.
type AdapterClient struct {
	opts        Options
	gapicClient *vkit.Client
	md          metadata.MD
	sessions    *sessionManager
}

func contextWithOutgoingMetadata(
	ctx context.Context,
	md metadata.MD,
	enableRouteToLeader bool,
) context.Context {
	if enableRouteToLeader {
		md = metadata.Join(md, metadata.Pairs(routeToLeaderHeader, "true"))
	}
	existing, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = metadata.Join(existing, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func newAdapterClient(
	ctx context.Context,
	opts Options,
) (*AdapterClient, error) {
	// Create a client.
	cl := &AdapterClient{
		opts: opts,
		md:   metadata.Pairs(resourcePrefixHeader, opts.DatabaseUri),
	}
	cl.sessions = newSessionManager(func(ctx context.Context) (session, error) {
		return cl.createSession(ctx)
	})

	// Build grpc options.
	dialOpts, err := getDialOpts(opts)
	if err != nil {
		return nil, err
	}

	// Create a default gapic client.
	cl.gapicClient, err = vkit.NewClient(ctx, dialOpts...)
	if err != nil {
		return nil, err
	}
	return cl, nil
}

func defaultGRPCClientOptions() []option.ClientOption {
	return []option.ClientOption{
		internaloption.WithDefaultEndpoint("spanner.googleapis.com:443"),
		internaloption.WithDefaultEndpointTemplate("spanner.UNIVERSE_DOMAIN:443"),
		internaloption.WithDefaultMTLSEndpoint("spanner.mtls.googleapis.com:443"),
		internaloption.WithDefaultUniverseDomain("googleapis.com"),
		internaloption.WithDefaultAudience("https://spanner.googleapis.com/"),
		internaloption.WithDefaultScopes(vkit.DefaultAuthScopes()...),
		internaloption.EnableJwtWithScope(),
		internaloption.EnableNewAuthLibrary(),
		option.WithGRPCDialOption(grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(math.MaxInt32))),
	}
}

func getDialOpts(
	opts Options,
) ([]option.ClientOption, error) {
	if opts.SpannerEndpoint == "" {
		if envEndpoint := os.Getenv("SPANNER_ENDPOINT"); envEndpoint != "" {
			opts.SpannerEndpoint = envEndpoint
		} else {
			opts.SpannerEndpoint = defaultSpannerEndpoint
		}
	}

	dialOpts := defaultGRPCClientOptions()
	dialOpts = append(
		dialOpts,
		option.WithEndpoint(opts.SpannerEndpoint),
		option.WithGRPCConnectionPool(opts.NumGrpcChannels),
		option.WithUserAgent(
			fmt.Sprintf("spanner-cassandra-adapter-go/v%s", version),
		),
		internaloption.AllowNonDefaultServiceAccount(true),
	)

	if opts.UsePlainText {
		dialOpts = append(
			dialOpts,
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithoutAuthentication(),
		)
	}

	dialOpts = append(dialOpts, opts.GoogleApiOpts...)

	if enableDirectPathXds, _ := strconv.ParseBool(os.Getenv("GOOGLE_SPANNER_ENABLE_DIRECT_ACCESS")); enableDirectPathXds {
		dialOpts = append(
			dialOpts,
			internaloption.EnableDirectPath(true),
			internaloption.EnableDirectPathXds(),
		)
	}
	return dialOpts, nil
}

func (cl *AdapterClient) getMetadata() metadata.MD {
	return cl.md
}

func (cl *AdapterClient) createSessionMetadata() metadata.MD {
	return metadata.Join(
		cl.md,
		metadata.Pairs(requestParamsHeader, "parent="+url.QueryEscape(cl.opts.DatabaseUri)),
	)
}

// createSession issues (with gRPC-level retry) a single CreateSession call
// and returns the resulting session handle. It does not touch the
// sessionManager directly; callers go through getOrRefreshSession.
func (cl *AdapterClient) createSession(ctx context.Context) (session, error) {
	req := &adapterpb.CreateSessionRequest{
		Parent:  cl.opts.DatabaseUri,
		Session: &adapterpb.Session{},
	}

	var result session
	err := RunCreateAdapterSessionWithRetry(
		ctx,
		func(ctx context.Context) error {
			resp, err := CreateSessionGrpc(ctx, req, cl)
			if err != nil {
				return err
			}
			result = session{name: resp.Name}
			return nil
		},
	)
	if err != nil {
		return session{}, err
	}
	return result, nil
}

// getOrRefreshSession returns the current Adapter session, creating or
// refreshing it first if necessary. Safe for concurrent use; see
// sessionManager for the single-flight contract.
func (cl *AdapterClient) getOrRefreshSession(
	ctx context.Context,
) (session, error) {
	return cl.sessions.get(ctx)
}
