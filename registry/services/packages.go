package services

import (
	"errors"
	"fmt"
	"net/http"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/core"
	"pkgregistry/registry/schema"
	"pkgregistry/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type PackageService struct {
	db     *gorm.DB
	engine *core.Engine
}

func (s *PackageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(auth.AdminOnly(s.engine.AdminGroups())).Post("/", s.CreatePackage)

	r.Route("/{namespace}/{name}", func(r chi.Router) {
		r.Get("/", s.GetPackage)
		r.With(auth.AdminOnly(s.engine.AdminGroups())).Delete("/", s.DeletePackage)

		r.Route("/{branch}", func(r chi.Router) {
			r.Use(auth.CLARequired())

			r.Post("/acl", s.SetAcl)
			r.Post("/poc", s.TransferPointOfContact)
			r.Post("/status", s.UpdateStatus)
		})
	})

	return r
}

type createPackageRequest struct {
	Namespace   string   `json:"namespace"`
	Name        string   `json:"name"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	ReviewURL   string   `json:"review_url"`
	UpstreamURL string   `json:"upstream_url"`
	Critpath    bool     `json:"critpath"`
	Branches    []string `json:"branches"`
	PoC         string   `json:"point_of_contact"`
}

func (s *PackageService) CreatePackage(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createPackageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.engine.CreatePackage(actor, core.NewPackage{
		Namespace:   params.Namespace,
		Name:        params.Name,
		Summary:     params.Summary,
		Description: params.Description,
		ReviewURL:   params.ReviewURL,
		UpstreamURL: params.UpstreamURL,
		Critpath:    params.Critpath,
		Branches:    params.Branches,
		PoC:         params.PoC,
	})

	writeCoreResult(w, err, fmt.Sprintf("package %v created", params.Name))
}

func (s *PackageService) DeletePackage(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	namespace, err := utils.URLParam(r, "namespace")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name, err := utils.URLParam(r, "name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.engine.DeletePackage(actor, namespace, name)
	writeCoreResult(w, err, fmt.Sprintf("package %v/%v deleted", namespace, name))
}

type listingInfo struct {
	Branch         string               `json:"branch"`
	PointOfContact string               `json:"point_of_contact"`
	Status         schema.ListingStatus `json:"status"`
	Critpath       bool                 `json:"critpath"`
	Acls           []aclInfo            `json:"acls"`
}

type aclInfo struct {
	FasName string           `json:"fas_name"`
	Acl     schema.AclKind   `json:"acl"`
	Status  schema.AclStatus `json:"status"`
}

type packageResponse struct {
	Namespace   string               `json:"namespace"`
	Name        string               `json:"name"`
	Summary     string               `json:"summary"`
	Description string               `json:"description"`
	Status      schema.PackageStatus `json:"status"`
	Critpath    bool                 `json:"critpath"`
	Listings    []listingInfo        `json:"listings"`
}

func (s *PackageService) GetPackage(w http.ResponseWriter, r *http.Request) {
	namespace, err := utils.URLParam(r, "namespace")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name, err := utils.URLParam(r, "name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.getPackage(namespace, name)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, resp)
}

func (s *PackageService) getPackage(namespace, name string) (packageResponse, error) {
	pkg, err := schema.GetPackage(s.db, namespace, name)
	if err != nil {
		if errors.Is(err, schema.ErrPackageNotFound) {
			return packageResponse{}, CodedError(err, http.StatusNotFound)
		}
		return packageResponse{}, CodedError(err, http.StatusInternalServerError)
	}

	var listings []schema.PackageListing
	result := s.db.Preload("Collection").Preload("Acls").Find(&listings, "package_id = ?", pkg.Id)
	if result.Error != nil {
		return packageResponse{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	resp := packageResponse{
		Namespace:   pkg.Namespace,
		Name:        pkg.Name,
		Summary:     pkg.Summary,
		Description: pkg.Description,
		Status:      pkg.Status,
		Critpath:    pkg.Critpath,
		Listings:    make([]listingInfo, 0, len(listings)),
	}
	for _, listing := range listings {
		info := listingInfo{
			Branch:         listing.Collection.Branchname,
			PointOfContact: listing.PointOfContact,
			Status:         listing.Status,
			Critpath:       listing.Critpath,
			Acls:           make([]aclInfo, 0, len(listing.Acls)),
		}
		for _, acl := range listing.Acls {
			info.Acls = append(info.Acls, aclInfo{FasName: acl.FasName, Acl: acl.Acl, Status: acl.Status})
		}
		resp.Listings = append(resp.Listings, info)
	}

	return resp, nil
}

type setAclRequest struct {
	FasName string           `json:"fas_name"`
	Acl     schema.AclKind   `json:"acl"`
	Status  schema.AclStatus `json:"status"`
}

func (s *PackageService) SetAcl(w http.ResponseWriter, r *http.Request) {
	actor, namespace, name, branch, ok := s.mutationParams(w, r)
	if !ok {
		return
	}

	var params setAclRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.FasName == "" {
		params.FasName = actor.Username
	}

	err := s.engine.SetAcl(actor, namespace, name, branch, params.FasName, params.Acl, params.Status)
	writeCoreResult(w, err, fmt.Sprintf("acl %v of %v set to %v", params.Acl, params.FasName, params.Status))
}

type transferPocRequest struct {
	PoC string `json:"point_of_contact"`
}

func (s *PackageService) TransferPointOfContact(w http.ResponseWriter, r *http.Request) {
	actor, namespace, name, branch, ok := s.mutationParams(w, r)
	if !ok {
		return
	}

	var params transferPocRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err := s.engine.TransferPointOfContact(actor, namespace, name, branch, params.PoC)
	writeCoreResult(w, err, fmt.Sprintf("point of contact set to %v", params.PoC))
}

type updateStatusRequest struct {
	Status schema.ListingStatus `json:"status"`
	PoC    string               `json:"point_of_contact"`
}

func (s *PackageService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, namespace, name, branch, ok := s.mutationParams(w, r)
	if !ok {
		return
	}

	var params updateStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err := s.engine.UpdateStatus(actor, namespace, name, branch, params.Status, params.PoC)
	writeCoreResult(w, err, fmt.Sprintf("status set to %v", params.Status))
}

func (s *PackageService) mutationParams(w http.ResponseWriter, r *http.Request) (auth.Actor, string, string, string, bool) {
	actor, err := auth.ActorFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return auth.Actor{}, "", "", "", false
	}

	namespace, err := utils.URLParam(r, "namespace")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return auth.Actor{}, "", "", "", false
	}
	name, err := utils.URLParam(r, "name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return auth.Actor{}, "", "", "", false
	}
	branch, err := utils.URLParam(r, "branch")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return auth.Actor{}, "", "", "", false
	}

	return actor, namespace, name, branch, true
}
