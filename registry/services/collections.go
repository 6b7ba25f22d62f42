package services

import (
	"fmt"
	"net/http"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/core"
	"pkgregistry/registry/schema"
	"pkgregistry/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type CollectionService struct {
	db     *gorm.DB
	engine *core.Engine
}

func (s *CollectionService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.ListCollections)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.engine.AdminGroups()))

		r.Post("/", s.CreateCollection)
		r.Patch("/{branchname}", s.UpdateCollection)
		r.Post("/{from}/branch/{to}", s.Branch)
	})

	return r
}

type collectionInfo struct {
	Name        string                  `json:"name"`
	Version     string                  `json:"version"`
	Branchname  string                  `json:"branchname"`
	Status      schema.CollectionStatus `json:"status"`
	AllowRetire bool                    `json:"allow_retire"`
	DistTag     string                  `json:"dist_tag"`
	KojiName    string                  `json:"koji_name"`
}

func (s *CollectionService) ListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.listCollections()
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *CollectionService) listCollections() ([]collectionInfo, error) {
	var collections []schema.Collection
	result := s.db.Order("branchname").Find(&collections)
	if result.Error != nil {
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	infos := make([]collectionInfo, 0, len(collections))
	for _, c := range collections {
		infos = append(infos, collectionInfo{
			Name:        c.Name,
			Version:     c.Version,
			Branchname:  c.Branchname,
			Status:      c.Status,
			AllowRetire: c.AllowRetire,
			DistTag:     c.DistTag,
			KojiName:    c.KojiName,
		})
	}

	return infos, nil
}

type createCollectionRequest struct {
	Name        string                  `json:"name"`
	Version     string                  `json:"version"`
	Branchname  string                  `json:"branchname"`
	Status      schema.CollectionStatus `json:"status"`
	AllowRetire bool                    `json:"allow_retire"`
	DistTag     string                  `json:"dist_tag"`
	KojiName    string                  `json:"koji_name"`
}

func (s *CollectionService) CreateCollection(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createCollectionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.engine.CreateCollection(actor, core.NewCollection{
		Name:        params.Name,
		Version:     params.Version,
		Branchname:  params.Branchname,
		Status:      params.Status,
		AllowRetire: params.AllowRetire,
		DistTag:     params.DistTag,
		KojiName:    params.KojiName,
	})

	writeCoreResult(w, err, fmt.Sprintf("collection %v created", params.Branchname))
}

type updateCollectionRequest struct {
	Status      schema.CollectionStatus `json:"status"`
	AllowRetire *bool                   `json:"allow_retire"`
}

func (s *CollectionService) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	branchname, err := utils.URLParam(r, "branchname")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateCollectionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.engine.UpdateCollection(actor, branchname, core.CollectionUpdate{
		Status:      params.Status,
		AllowRetire: params.AllowRetire,
	})

	writeCoreResult(w, err, fmt.Sprintf("collection %v updated", branchname))
}

type branchResponse struct {
	Message  string   `json:"message"`
	Failures []string `json:"failures,omitempty"`
}

func (s *CollectionService) Branch(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	from, err := utils.URLParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := utils.URLParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	failures, err := s.engine.Branch(actor, from, to)
	if err != nil {
		http.Error(w, err.Error(), coreErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, branchResponse{
		Message:  fmt.Sprintf("branched %v from %v", to, from),
		Failures: failures,
	})
}
