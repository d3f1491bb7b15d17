package http

// registerV1Routes sets up the v1 API structure
// Groups: /api/v1/uploads, /api/v1/batches, /api/v1/reference
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header

	// Upload endpoints - validate and ingest certificate of analysis files
	uploads := v1.Group("/uploads")
	{
		uploads.POST("", s.handleV1Upload)
		uploads.POST("/validate", s.handleV1ValidateUpload)
	}

	// Batch endpoints - ingested files with reading and result counts
	batches := v1.Group("/batches")
	{
		batches.GET("", s.handleV1ListBatches)
		batches.GET("/:id", s.handleV1GetBatch)
	}

	reference := v1.Group("/reference")
	{
		reference.GET("/parameters", s.handleV1ListParameters)
	}
}
