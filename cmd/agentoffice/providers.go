package main

// Blank imports activate self-registering notification channels.

import (
	_ "github.com/ccivlcid/agentoffice-sub001/internal/adapter/slack"
)
