package constants

/*
	Defines a set of base level
	constants and enums to be used
	throughout cohortkit and its
	associated services.
*/
type AssemblyId string
type Zygosity int
type Ploidy int

type JobState string
type MemoryTier string
type AccessLevel string
