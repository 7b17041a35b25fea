// Package flowclient builds ready-to-use reqflow clients from configuration.
//
// It wires the HTTP adapter, a cache backend (memory, Redis or NATS KV), zap
// logging, bearer authentication, rate limiting and the global retry policy
// into a *reqflow.Client.
//
// # Basic Usage
//
//	client, err := flowclient.NewWithToken(ctx, "https://api.example.com", token)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	resp, err := client.NewRequest("GET", "/v1/users").Send(ctx)
//
// # Loading Configuration
//
// Config carries mapstructure tags so it can be loaded through viper:
//
//	v := viper.New()
//	v.SetConfigFile(filepath.Join(home, ".reqflow", "config.yml"))
//	v.SetEnvPrefix("REQFLOW")
//	v.AutomaticEnv()
//	_ = v.ReadInConfig()
//
//	config, err := flowclient.LoadConfig(v)
//	client, err := flowclient.New(ctx, config)
//
// A Redis backed cache is selected with:
//
//	cache:
//	  backend: redis
//	  redis:
//	    address: localhost:6379
package flowclient
