// Package config loads the commander server configuration.
//
// Sources are layered, later ones winning:
//
//  1. Default()
//  2. the YAML file passed with --config
//  3. a .env file, then COMMANDER_* environment variables
//  4. command-line flags the user set explicitly
//
// Recipients and tokens come from the file or the environment. The
// recipient list is reloadable at runtime; everything else needs a restart.
package config
