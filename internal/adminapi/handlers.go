package adminapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func registerRoutes(engine *gin.Engine, provider Provider, startTime time.Time) {
	engine.GET("/healthz", handleHealth)
	engine.GET("/stats", handleStats(provider, startTime))
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func handleStats(provider Provider, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		uptime := time.Since(startTime)

		memStats := MemoryStats{}
		if vmStat, err := mem.VirtualMemory(); err == nil {
			memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
			memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
			memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
			memStats.UsedPercent = vmStat.UsedPercent
		}

		cpuStats := CPUStats{NumCPU: runtime.NumCPU()}
		if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
			cpuStats.UsedPercent = pct[0]
			cpuStats.IdlePercent = 100.0 - pct[0]
		}

		var relay RelayStats
		var workers []WorkerStats
		if provider != nil {
			snap := provider.Relay()
			relay = RelayStats{
				ConnectionsAccepted: snap.ConnectionsAccepted,
				ConnectionsClosed:   snap.ConnectionsClosed,
				PickFailures:        snap.PickFailures,
				BytesClientToUp:     snap.BytesClientToUp,
				BytesUpToClient:     snap.BytesUpToClient,
			}
			workers = provider.Workers()
		}

		c.JSON(http.StatusOK, StatsResponse{
			UptimeSeconds: int64(uptime.Seconds()),
			StartTime:     startTime,
			CPU:           cpuStats,
			Memory:        memStats,
			Relay:         relay,
			Workers:       workers,
		})
	}
}
