package assistant

// User-facing texts.
const (
	msgFailure         = "An error occurred: %v"
	msgUpstreamFailure = "Model service error (status %d): %s"
	msgEmptyPrompt     = "Please write something after the command."
	msgEmptyReply      = "(the model returned an empty reply)"
	msgRateLimited     = "⏳ You are sending requests too fast. Try again in a moment."

	msgNoAdmin            = "❌ You do not have administrator rights."
	msgInstructionUpdated = "✅ Instruction for %s updated."

	msgNoPromptRights = "❌ You do not have permission to change the system prompt."
	msgPromptUpdated  = "✅ The system prompt for this server was updated."

	msgOnlyAdminsGrant  = "❌ Only administrators can grant rights."
	msgGranted          = "✅ %s can now change prompts."
	msgAlreadyGranted   = "⚠ This user already has rights."
	msgOnlyAdminsRevoke = "❌ Only administrators can revoke rights."
	msgRevoked          = "✅ %s can no longer change prompts."
	msgNotInList        = "⚠ This user is not in the list."

	msgNoForgetRights    = "❌ You do not have permission to use this command."
	msgUserForgotten     = "🧠 Memory of %s was cleared."
	msgUserMemoryEmpty   = "⚠ This user's memory is empty or was not found."
	msgServerForgotten   = "💾 All memory of this server was cleared."
	msgServerMemoryEmpty = "⚠ This server has no saved memory."
)
