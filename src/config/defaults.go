package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns a default configuration with sensible defaults
func DefaultConfig() *Config {
	stateDir := GetDefaultStatePath()

	return &Config{
		Version: "1.0",
		Peer: PeerConfig{
			LocalID:       "nanobot",
			RemoteID:      "argus",
			RemoteURL:     "http://127.0.0.1:3200",
			Timeout:       Duration(30 * time.Second),
			HealthTimeout: Duration(5 * time.Second),
			ExchangeLog:   filepath.Join(stateDir, "exchanges.log"),
		},

		Safeguard: SafeguardConfig{
			Cooldown:            Duration(60 * time.Second),
			MaxTurns:            3,
			ConversationTimeout: Duration(5 * time.Minute),
			CleanupHorizon:      Duration(24 * time.Hour),
			DoneSignals:         []string{"DONE", "END", "FERTIG", "ABGESCHLOSSEN"},
		},

		Dialog: DialogConfig{
			ShownItems:     5,
			PromptTimeout:  Duration(90 * time.Second),
			BodyPreview:    300,
			CommentPreview: 150,
			CommentsShown:  3,
			BusyThreshold:  5,
			Vocabulary:     DefaultVocabulary(),
		},

		Tracker: TrackerConfig{
			Backend:     TrackerGH,
			GHPath:      "gh",
			TokenEnvVar: "GITHUB_TOKEN",
			Timeout:     Duration(30 * time.Second),
			ListLimit:   10,
		},

		Executor: ExecutorConfig{
			ScriptsDir:     filepath.Join(GetDefaultDataPath(), "scripts"),
			AskScript:      "ask-claude.sh",
			StatusScript:   "claude-status.sh",
			SkillsDir:      filepath.Join(GetDefaultDataPath(), "skills"),
			TmuxSession:    "claude",
			DefaultTimeout: Duration(60 * time.Second),
			Grace:          Duration(10 * time.Second),
		},

		Storage: StorageConfig{
			Backend: BackendJSON,
			Dir:     stateDir,
		},

		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(150 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},

		Mail: MailConfig{
			Command:  "mutt",
			FromName: "Nanobot",
			Timeout:  Duration(60 * time.Second),
		},

		Report: ReportConfig{
			Services:     []string{"claude-tmux", "p2prelay", "p2p-logs-export.timer"},
			ActivityDays: 7,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultVocabulary returns the German/English keyword table the triage
// dialog ships with
func DefaultVocabulary() VocabularyConfig {
	return VocabularyConfig{
		Terminate: []string{"done", "fertig", "ende", "nein", "keins", "nichts", "stop"},
		Comments:  []string{"kommentar", "comment"},
		Analyze:   []string{"analy"},
		Confirm:   []string{"ja", "yes", "ok"},
		Decline:   []string{"no", "nee"},
		Back:      []string{"zurück", "zurueck", "back"},
	}
}
