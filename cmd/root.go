// Package cmd implements the matiz command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "matiz",
	Short: "matiz - assistente conversacional de tintas",
	Long: `matiz é um assistente conversacional de recomendação de tintas.

Ele busca produtos no catálogo por similaridade semântica, responde
perguntas sobre tintas e simula cores na foto de um ambiente.

Use "matiz serve" para iniciar o servidor HTTP.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newEmbeddingsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
