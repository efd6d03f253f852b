package models

// All returns every model the service persists, in migration order.
// Both config.ConnectDB and the test harness migrate from this list so the
// two schemas cannot drift.
func All() []interface{} {
	return []interface{}{
		&SendingAccount{},
		&AccountDailyCount{},
		&Contact{},
		&Campaign{},
		&CampaignStep{},
		&StepVariant{},
		&CampaignAccount{},
		&CampaignRecipient{},
		&Conversation{},
		&DirectMessage{},
	}
}
