package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrCampaignNotFound indicates a campaign was not found by the given identifier.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrFlowNotFound indicates a flow (or flow version) was not found.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrRecipientStateNotFound indicates no execution state exists for the
	// given (campaign, recipient) pair.
	ErrRecipientStateNotFound = errors.New("recipient state not found")

	// ErrAudienceNotFound indicates an audience was not found by the given identifier.
	ErrAudienceNotFound = errors.New("audience not found")

	// ErrTemplateNotFound indicates an email template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("email template not found")
)

// IsCampaignNotFound checks if an error indicates a campaign was not found.
func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsRecipientStateNotFound checks if an error indicates recipient state was not found.
func IsRecipientStateNotFound(err error) bool {
	return errors.Is(err, ErrRecipientStateNotFound)
}

// IsAudienceNotFound checks if an error indicates an audience was not found.
func IsAudienceNotFound(err error) bool {
	return errors.Is(err, ErrAudienceNotFound)
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsNotFound checks if an error is any of the not-found sentinels. Handlers
// use it to map persistence misses to 404 responses.
func IsNotFound(err error) bool {
	return IsCampaignNotFound(err) ||
		IsFlowNotFound(err) ||
		IsRecipientStateNotFound(err) ||
		IsAudienceNotFound(err) ||
		IsTemplateNotFound(err)
}
