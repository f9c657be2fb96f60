package coordinator

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/proofofflip/proofofflip/internal/identity"
)

// Server bundles the Coordinator's HTTP-facing collaborators (spec §4.5
// "Other Coordinator endpoints").
type Server struct {
	Pool        *Pool
	Bus         *EventBus
	GameLog     *GameLog
	Register    *RegistrationHandler
	Topup       *TopupHandler
	Donation    *DonationHandler
	AgentMsg    *AgentMessageHandler
	OwnCert     *identity.BirthCertificate
	OwnRTMR3    func() (string, error)
}

// RegisterRoutes mounts every Coordinator endpoint onto engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/register", s.Register.Handle)
	api.GET("/events", s.Bus.HandleSSE)
	api.GET("/agents", s.handleAgents)
	api.GET("/leaderboard", s.handleLeaderboard)
	api.GET("/games", s.handleGames)
	api.GET("/stats", s.handleStats)
	api.GET("/attestation", s.handleOwnAttestation)
	api.GET("/birth-cert", s.handleOwnBirthCert)
	api.POST("/topup-sol", s.Topup.Handle)
	api.POST("/agent-message", s.AgentMsg.Handle)
	api.POST("/donation-confirmed", s.Donation.Handle)
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.Pool.Snapshot())
}

// handleLeaderboard sorts by (balance desc, wins-losses desc) per spec §4.5.
func (s *Server) handleLeaderboard(c *gin.Context) {
	agents := s.Pool.Snapshot()
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].BalanceUnits != agents[j].BalanceUnits {
			return agents[i].BalanceUnits > agents[j].BalanceUnits
		}
		return (agents[i].Wins - agents[i].Losses) > (agents[j].Wins - agents[j].Losses)
	})
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGames(c *gin.Context) {
	c.JSON(http.StatusOK, s.GameLog.Snapshot())
}

func (s *Server) handleStats(c *gin.Context) {
	agents := s.Pool.Snapshot()
	var totalVolume int64
	for _, g := range s.GameLog.Snapshot() {
		totalVolume += g.StakeAmount
	}
	c.JSON(http.StatusOK, gin.H{
		"totalAgents": len(agents),
		"totalGames":  s.GameLog.Count(),
		"totalVolume": totalVolume,
	})
}

func (s *Server) handleOwnAttestation(c *gin.Context) {
	if s.OwnRTMR3 == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attestation not configured"})
		return
	}
	rtmr3, err := s.OwnRTMR3()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rtmr3": rtmr3})
}

func (s *Server) handleOwnBirthCert(c *gin.Context) {
	if s.OwnCert == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity not ready"})
		return
	}
	c.JSON(http.StatusOK, s.OwnCert)
}
