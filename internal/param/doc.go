// Package param is a typed parameter cache with one value list per address.
//
// A parameter is registered once by name and gets an index that is valid on
// every address. Values start out undefined. Setting a value marks it
// changed; CallCallbacks delivers the changed values of one address to the
// subscribers and clears the marks. Status numbers follow the asyn parameter
// library so that log lines stay comparable with other drivers.
package param
