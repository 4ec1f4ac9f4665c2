package config

// Version is stamped at build time with
// -ldflags "-X github.com/SoftKiwiGames/ferry/ferry/config.Version=v1.2.0".
var Version = "dev"
