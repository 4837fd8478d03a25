package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hevelius/hevelius/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the REST API",
	Long:  "Issue a bearer token for the REST API, signed with server.jwt_secret and valid for server.token_ttl.",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		name, _ := cmd.Flags().GetString("name")
		if userID <= 0 {
			return fmt.Errorf("--user must be a positive user id")
		}

		jm, err := server.NewJWTManager(viper.GetString("server.jwt_secret"), viper.GetDuration("server.token_ttl"))
		if err != nil {
			return err
		}
		tok, err := jm.GenerateToken(userID, name)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Int64("user", 0, "User id the token is issued for")
	tokenCmd.Flags().String("name", "", "User name stored in the token")
}
