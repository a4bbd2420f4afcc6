/*
Copyright 2024 Google LLC

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

/*
This file provides a simple launcher for the Cassandra-to-Spanner proxy.
The launcher starts the proxy, allowing CQL clients (like cqlsh) to connect
to it as if it were a Cassandra database. Once started, the proxy listens for connections (default
:9042, all network interfaces) and remains active until a SIGINT or SIGTERM signal is received,
at which point it shuts down gracefully.
*/

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	spanner "github.com/cloudspannerecosystem/spanner-cassandra-proxy/cassandra/gocql"
	"github.com/cloudspannerecosystem/spanner-cassandra-proxy/config"
	"github.com/cloudspannerecosystem/spanner-cassandra-proxy/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String(
		"config",
		"",
		"Optional path to a YAML or properties settings file. Flags explicitly set on the command line win over values in this file.",
	)

	databaseURI := flag.String(
		"db",
		"",
		"The Spanner database URI (required, unless set via -config)",
	)

	spannerEndpoint := flag.String(
		"spanner-endpoint",
		"",
		"Optional Spanner service endpoint. Defaults to spanner.googleapis.com:443",
	)

	tcpEndpoint := flag.String(
		"tcp",
		":9042",
		"The Spanner Adapter proxy listner address. Default to :9042 to bind all network interfaces due to docker forwarding",
	)

	numGrpcChannels := flag.Int(
		"grpc-channels",
		4,
		"The number of channels when dial grpc connection. Default to 4.",
	)

	disableAdaptMessageRetry := flag.Bool(
		"disable-adapt-message-retry",
		false,
		"Disable the automatic gRPC retry for the AdaptMessage API. Default to false.",
	)

	logLevel := flag.String(
		"log",
		"info",
		"Log level. Default to info.",
	)

	maxCommitDelay := flag.Int(
		"max_commit_delay",
		0,
		"The maximum delay in milliseconds. Default is 0 (disabled).",
	)

	usePlainText := flag.Bool(
		"plaintext",
		false,
		"Dial the upstream Spanner Adapter endpoint over plaintext. Emulator/dev use only.",
	)

	enableBuiltInMetrics := flag.Bool(
		"enable-built-in-metrics",
		false,
		"Export request latency and count metrics to Cloud Monitoring.",
	)

	healthCheckPort := flag.Int(
		"health-check-port",
		0,
		"Local port to serve /debug/health on. Zero disables it.",
	)

	flag.Parse()

	fileCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Error: failed to load -config:", err)
		os.Exit(1)
	}

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if fileCfg.DatabaseUri != "" && !explicit["db"] {
		*databaseURI = fileCfg.DatabaseUri
	}
	if fileCfg.SpannerEndpoint != "" && !explicit["spanner-endpoint"] {
		*spannerEndpoint = fileCfg.SpannerEndpoint
	}
	if fileCfg.TCPEndpoint != "" && !explicit["tcp"] {
		*tcpEndpoint = fileCfg.TCPEndpoint
	}
	if fileCfg.NumGrpcChannels != 0 && !explicit["grpc-channels"] {
		*numGrpcChannels = fileCfg.NumGrpcChannels
	}
	if fileCfg.DisableAdaptMessageRetry && !explicit["disable-adapt-message-retry"] {
		*disableAdaptMessageRetry = true
	}
	if fileCfg.MaxCommitDelay != 0 && !explicit["max_commit_delay"] {
		*maxCommitDelay = fileCfg.MaxCommitDelay
	}
	if fileCfg.LogLevel != "" && !explicit["log"] {
		*logLevel = fileCfg.LogLevel
	}
	if fileCfg.UsePlainText && !explicit["plaintext"] {
		*usePlainText = true
	}
	if fileCfg.EnableBuiltInMetrics && !explicit["enable-built-in-metrics"] {
		*enableBuiltInMetrics = true
	}
	if fileCfg.HealthCheckPort != 0 && !explicit["health-check-port"] {
		*healthCheckPort = fileCfg.HealthCheckPort
	}

	if *databaseURI == "" {
		fmt.Println("Error: --db is required (directly or via -config database_uri)")
		flag.Usage()
		os.Exit(1)
	}

	opts := &spanner.Options{
		DatabaseUri:              *databaseURI,
		SpannerEndpoint:          *spannerEndpoint,
		TCPEndpoint:              *tcpEndpoint,
		NumGrpcChannels:          *numGrpcChannels,
		DisableAdaptMessageRetry: *disableAdaptMessageRetry,
		LogLevel:                 *logLevel,
		MaxCommitDelay:           *maxCommitDelay,
		UsePlainText:             *usePlainText,
		EnableBuiltInMetrics:     *enableBuiltInMetrics,
		HealthCheckPort:          *healthCheckPort,
	}

	cluster := spanner.NewCluster(opts)
	if cluster == nil {
		logger.Error("Failed to initialize Spanner Cassandra Adapter")
		os.Exit(1)
	}
	defer spanner.CloseCluster(cluster)

	logger.Info(
		"Spanner Cassandra Adapter created successfully",
		zap.String("connected database", *databaseURI),
	)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	<-sigchan

	logger.Info("Shutting down Spanner Cassandra Adapter...")
}
