package coordinator

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type donationReport struct {
	AgentName string  `json:"agentName"`
	Donor     string  `json:"donor"`
	Amount    float64 `json:"amount"`
}

// DonationHandler implements POST /api/donation-confirmed (spec §4.5
// "Donation ingestion"): authenticated by agent-name presence in the pool.
type DonationHandler struct {
	Pool *Pool
	Bus  *EventBus
}

func (h *DonationHandler) Handle(c *gin.Context) {
	var req donationReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed donation report"})
		return
	}

	var found bool
	for _, a := range h.Pool.Snapshot() {
		if a.AgentName == req.AgentName {
			found = true
			break
		}
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown agent"})
		return
	}

	for _, a := range h.Pool.Snapshot() {
		if a.AgentName == req.AgentName {
			h.Pool.Mutate(a.WalletAddress, func(ag *Agent) { ag.TotalDonations += req.Amount })
			break
		}
	}

	h.Bus.Publish(c.Request.Context(), Event{Type: "donation", Data: req, Timestamp: time.Now()})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AgentMessageHandler implements POST /api/agent-message: authenticated the
// same way, forwarded to the event bus as "trash_talk".
type AgentMessageHandler struct {
	Pool *Pool
	Bus  *EventBus
}

type agentMessage struct {
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
}

func (h *AgentMessageHandler) Handle(c *gin.Context) {
	var req agentMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed agent message"})
		return
	}
	if !h.poolHasAgentName(req.AgentName) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown agent"})
		return
	}
	h.Bus.Publish(c.Request.Context(), Event{Type: "trash_talk", Data: req, Timestamp: time.Now()})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AgentMessageHandler) poolHasAgentName(name string) bool {
	for _, a := range h.Pool.Snapshot() {
		if a.AgentName == name {
			return true
		}
	}
	return false
}
