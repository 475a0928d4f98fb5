// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avenueworks/avenue/internal/api"
	"github.com/avenueworks/avenue/internal/store"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new credential encryption master key",
		Long: `Generate a random 256-bit master key and print it base64-encoded.

Export the printed value as AVENUE_MASTER_KEY before running serve or
migrate. Rotating the key orphans previously encrypted credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := store.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			fmt.Println(base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for a user",
		Long: `Sign a short-lived HS256 bearer token for the given user id,
using AVENUE_JWT_SECRET from the environment. Intended for development
and operational tooling, not as an identity provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("AVENUE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("AVENUE_JWT_SECRET must be set")
			}
			if tokenUser == "" {
				return fmt.Errorf("--user is required")
			}

			token, err := api.GenerateToken(tokenUser, []byte(secret), tokenTTL)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenUser, "user", "", "User id to issue the token for")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")

	return cmd
}
